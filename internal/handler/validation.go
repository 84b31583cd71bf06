package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/boddenberg/commission-tracker-go/internal/domain"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report the wire name, not the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// periodQuery is the shared ?from=&to= window of the report endpoints.
type periodQuery struct {
	From string `query:"from" validate:"omitempty,datetime=2006-01-02"`
	To   string `query:"to" validate:"omitempty,datetime=2006-01-02"`
}

type dashboardQuery struct {
	periodQuery
	Top int `query:"top" validate:"min=1,max=50"`
}

type createRunRequest struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"omitempty,datetime=2006-01-02"`
}

const defaultTopN = 5

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := "is invalid"
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "datetime":
			msg = "must be YYYY-MM-DD"
		case "min", "max":
			msg = "must be between 1 and 50"
		}
		return &domain.ErrValidation{Field: fe.Field(), Message: msg}
	}
	return err
}

func parsePeriodQuery(r *http.Request, svc nowFunc) (domain.Period, error) {
	q := periodQuery{From: r.URL.Query().Get("from"), To: r.URL.Query().Get("to")}
	if err := validate.Struct(q); err != nil {
		return domain.Period{}, validationError(err)
	}
	return domain.ParsePeriod(q.From, q.To, svc.Now())
}

func parseDashboardQuery(r *http.Request, svc nowFunc) (domain.Period, int, error) {
	q := dashboardQuery{
		periodQuery: periodQuery{From: r.URL.Query().Get("from"), To: r.URL.Query().Get("to")},
		Top:         defaultTopN,
	}
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.Period{}, 0, &domain.ErrValidation{Field: "top", Message: "must be an integer"}
		}
		q.Top = n
	}
	if err := validate.Struct(q); err != nil {
		return domain.Period{}, 0, validationError(err)
	}
	p, err := domain.ParsePeriod(q.From, q.To, svc.Now())
	return p, q.Top, err
}

func parseRefresh(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("refresh")
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &domain.ErrValidation{Field: "refresh", Message: "must be a boolean"}
	}
	return b, nil
}
