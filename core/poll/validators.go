package poll

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/user"
)

var bosRolesTag = "bosroles"

// InitValidators registers the poll validators. core.InitValidators must run first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(bosRolesTag, bosRolesValidation)
	core.RegisterCustomTranslation(validate, translator, bosRolesTag, errInvalidRoles)
}

// bosRolesValidation checks that every role is a BOS voter role.
func bosRolesValidation(fl validator.FieldLevel) bool {
	roles, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	for _, role := range roles {
		if !core.ContainsString(user.AllRoles, role) {
			return false
		}
	}
	return true
}
