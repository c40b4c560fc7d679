// validate.go -- Request body shapes and their validation rules.
package auth

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type loginRequest struct {
	Email        string `json:"email" validate:"required,email,max=256"`
	Password     string `json:"password" validate:"required,max=128"`
	CaptchaToken string `json:"captcha_token"`
}

type registerRequest struct {
	Email           string `json:"email" validate:"required,email,max=256"`
	Password        string `json:"password" validate:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	ReferralCode    string `json:"referral_code" validate:"omitempty,max=32"`
	CaptchaToken    string `json:"captcha_token"`
}

// fieldMessages maps StructField.tag to the message shown to the user.
var fieldMessages = map[string]string{
	"Email.required":           "Email is required.",
	"Email.email":              "Please enter a valid email address.",
	"Email.max":                "Email must not exceed 256 characters.",
	"Password.required":        "Password is required.",
	"Password.min":             "Password must be at least 6 characters.",
	"Password.max":             "Password is too long.",
	"ConfirmPassword.required": "Please confirm your password.",
	"ConfirmPassword.eqfield":  "Passwords do not match.",
	"ReferralCode.max":         "Referral code must not exceed 32 characters.",
}

// validateRequest checks v's struct tags and returns the first user-facing
// message, or "" when v is valid.
func validateRequest(v any) string {
	err := validate.Struct(v)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request."
	}
	fe := verrs[0]
	if msg, ok := fieldMessages[fe.StructField()+"."+fe.Tag()]; ok {
		return msg
	}
	return "Invalid " + fe.Field() + "."
}

// validateRegister adds bcrypt's byte limit on top of the tag rules, which
// count runes.
func validateRegister(req *registerRequest) string {
	if msg := validateRequest(req); msg != "" {
		return msg
	}
	if len(req.Password) > MaxPasswordBytes {
		return "Password is too long."
	}
	return ""
}
