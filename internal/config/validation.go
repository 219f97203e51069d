package config

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// Validate checks struct constraints and the dialog texts, which live in a
// type owned by the dialog package and therefore carry no validate tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	msgs := reflect.ValueOf(c.Dialog.Messages)
	for i := range msgs.NumField() {
		if msgs.Field(i).String() == "" {
			field := msgs.Type().Field(i)
			return fmt.Errorf("dialog.messages.%s must not be empty", field.Tag.Get("mapstructure"))
		}
	}

	return nil
}
