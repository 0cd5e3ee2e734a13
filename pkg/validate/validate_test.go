package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
)

type sampleInput struct {
	Name     string `json:"name" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

func TestStructPassesValidInput(t *testing.T) {
	require.NoError(t, Struct(sampleInput{Name: "amoxicillin", Quantity: 2}))
}

func TestStructReportsFieldsByJSONName(t *testing.T) {
	err := Struct(sampleInput{Quantity: -1})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	coded := pkgerrors.As(err)
	require.NotNil(t, coded)
	details, ok := coded.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["name"])
	assert.Equal(t, "must be greater than 0", details["quantity"])
}
