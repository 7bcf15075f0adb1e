package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"comedores/internal/services"
)

func init() {
	// Report json names ("email") instead of Go field names ("Email").
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

const genericInputMessage = "Revisá los datos enviados."

var fieldMessages = map[string]string{
	"username":   "Ingresá un nombre de usuario.",
	"email":      "Ingresá un correo electrónico válido.",
	"password":   fmt.Sprintf("La contraseña debe tener al menos %d caracteres.", services.MinPasswordLen),
	"code":       "Ingresá el código que te enviamos por correo.",
	"recipients": "Indicá al menos un destinatario.",
	"comedor":    "Indicá el comedor.",
	"title":      "Indicá el título de la publicación.",
	"donor":      "Indicá quién dona.",
	"items":      "Indicá al menos un artículo con su cantidad.",
}

func inputMessage(fields []string) string {
	if len(fields) == 1 {
		if msg, ok := fieldMessages[fields[0]]; ok {
			return msg
		}
	}
	return genericInputMessage
}

// bindingFields lists the json fields a bind error is about; nil for
// malformed bodies.
func bindingFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]string, 0, len(verrs))
	seen := map[string]bool{}
	for _, fe := range verrs {
		// Nested paths like "items[0].quantity" report the top-level field.
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		name, _, _ := strings.Cut(ns, "[")
		name, _, _ = strings.Cut(name, ".")
		if name == "" {
			name = fe.Field()
		}
		if !seen[name] {
			seen[name] = true
			fields = append(fields, name)
		}
	}
	return fields
}
