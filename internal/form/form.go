// Package form holds the stateless field checks run on registration and
// login input before any account operation is attempted.
package form

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const DateLayout = "2006-01-02"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report json names so errors line up with the submitted fields
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("pastdate", func(fl validator.FieldLevel) bool {
		d, err := time.Parse(DateLayout, fl.Field().String())
		return err == nil && d.Before(time.Now())
	})

	return v
}

// RegistrationForm is the raw sign-up input
type RegistrationForm struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	FullName        string `json:"full_name" validate:"required,max=120"`
	BirthDate       string `json:"birth_date" validate:"required,datetime=2006-01-02,pastdate"`
	Gender          string `json:"gender" validate:"required,oneof=male female"`
	Phone           string `json:"phone" validate:"omitempty,e164"`
	Password        string `json:"password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// LoginForm only checks presence; anything more would hint at which
// accounts exist.
type LoginForm struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ValidateRegistration returns nil or *FieldErrors
func ValidateRegistration(f *RegistrationForm) error {
	f.Email = strings.TrimSpace(f.Email)
	f.FullName = strings.TrimSpace(f.FullName)
	f.Phone = strings.TrimSpace(f.Phone)
	return check(f)
}

// ValidateLogin returns nil or *FieldErrors
func ValidateLogin(f *LoginForm) error {
	f.Email = strings.TrimSpace(f.Email)
	return check(f)
}

// ParsedBirthDate returns the birth date of an already validated form
func (f *RegistrationForm) ParsedBirthDate() (time.Time, error) {
	return time.Parse(DateLayout, f.BirthDate)
}

func check(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("invalid validation error: %w", err)
	}

	fe := &FieldErrors{}
	for _, e := range ve {
		fe.Add(e.Field(), message(e))
	}
	return fe.orNil()
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Invalid email address."
	case "min":
		return fmt.Sprintf("Must be at least %s characters long.", e.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters long.", e.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s.", strings.Join(strings.Fields(e.Param()), ", "))
	case "datetime":
		return "Must be a date in YYYY-MM-DD format."
	case "pastdate":
		return "Must be a date in the past."
	case "e164":
		return "Must be a phone number in international format, e.g. +15551234567."
	case "eqfield":
		return "Passwords must match."
	default:
		return fmt.Sprintf("Failed the %q check.", e.Tag())
	}
}

type accountShape struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	FullName string `json:"full_name" validate:"required,max=120"`
	Gender   string `json:"gender" validate:"required,oneof=male female"`
	Phone    string `json:"phone" validate:"omitempty,e164"`
}

// ValidateAccountShape re-checks the identity fields of an account about to
// be created. Callers that skipped ValidateRegistration still get field
// errors instead of a bad row.
func ValidateAccountShape(email, fullName, gender, phone string) error {
	return check(&accountShape{
		Email:    strings.TrimSpace(email),
		FullName: strings.TrimSpace(fullName),
		Gender:   gender,
		Phone:    strings.TrimSpace(phone),
	})
}
