package service

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// Payload is the caller-supplied certificate content. Fields are validated in
// declaration order, so the first missing field reported follows this order.
type Payload struct {
	StudentAddress  string `json:"studentAddress" validate:"required,wallet"`
	StudentName     string `json:"studentName" validate:"required,max=256"`
	CourseName      string `json:"courseName" validate:"required,max=256"`
	Grade           string `json:"grade" validate:"required,max=64"`
	CompletionDate  string `json:"completionDate" validate:"required,completion_date"`
	CertificateType string `json:"certificateType" validate:"required,max=64"`
}

// Artifact is the certificate document stored in content-addressed storage.
type Artifact struct {
	Data     []byte
	Filename string
}

const dateLayout = "2006-01-02"

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("wallet", func(fl validator.FieldLevel) bool {
		_, err := id.ParseWalletAddress(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("completion_date", func(fl validator.FieldLevel) bool {
		_, err := parseCompletionDate(fl.Field().String())
		return err == nil
	})
	return v
}

func parseCompletionDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (p *Payload) normalize() {
	p.StudentAddress = strings.TrimSpace(p.StudentAddress)
	p.StudentName = strings.TrimSpace(p.StudentName)
	p.CourseName = strings.TrimSpace(p.CourseName)
	p.Grade = strings.TrimSpace(p.Grade)
	p.CompletionDate = strings.TrimSpace(p.CompletionDate)
	p.CertificateType = strings.TrimSpace(p.CertificateType)
}

// draft validates the payload and converts it to a certificate draft.
func (g *Gate) draft(p Payload) (models.Draft, error) {
	p.normalize()
	if err := g.validate.Struct(p); err != nil {
		return models.Draft{}, validationError(err)
	}
	addr, err := id.ParseWalletAddress(p.StudentAddress)
	if err != nil {
		return models.Draft{}, dErrors.New(dErrors.CodeValidation, "studentAddress must be a wallet address")
	}
	completed, err := parseCompletionDate(p.CompletionDate)
	if err != nil {
		return models.Draft{}, dErrors.New(dErrors.CodeValidation, "completionDate must be YYYY-MM-DD or RFC 3339")
	}
	return models.Draft{
		StudentAddress:  addr,
		StudentName:     p.StudentName,
		CourseName:      p.CourseName,
		Grade:           p.Grade,
		CompletionDate:  completed.UTC(),
		CertificateType: p.CertificateType,
	}, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid certificate payload")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return dErrors.Newf(dErrors.CodeMissingField, "%s is required", fe.Field())
	case "max":
		return dErrors.Newf(dErrors.CodeValidation, "%s must be at most %s characters", fe.Field(), fe.Param())
	case "wallet":
		return dErrors.Newf(dErrors.CodeValidation, "%s must be a wallet address", fe.Field())
	case "completion_date":
		return dErrors.Newf(dErrors.CodeValidation, "%s must be YYYY-MM-DD or RFC 3339", fe.Field())
	default:
		return dErrors.Newf(dErrors.CodeValidation, "%s is invalid", fe.Field())
	}
}
