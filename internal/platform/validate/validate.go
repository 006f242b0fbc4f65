// Package validate wraps go-playground/validator so every package reports
// input errors as domain.ValidationError.
package validate

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"rabtrack/pkg/domain"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
	})
	return instance
}

// Struct validates v against its `validate` tags.
func Struct(v any) error {
	err := get().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.ValidationError{Reason: err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
		reasons = append(reasons, fe.Field()+" "+fe.Tag())
	}
	return domain.ValidationError{Fields: fields, Reason: strings.Join(reasons, "; ")}
}
