package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/ukydev/live-presence/internal/models"
)

// ErrMalformedSample is returned when a payload is not a JSON sample.
var ErrMalformedSample = errors.New("malformed position sample")

var requestValidator = validator.New()

// DecodeSample reads one JSON sample from r. A payload without a latitude or
// longitude fails with ErrInvalidSample instead of decoding to 0,0.
func DecodeSample(r io.Reader) (models.PositionSample, error) {
	var req models.PositionRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return models.PositionSample{}, fmt.Errorf("%w: %v", ErrMalformedSample, err)
	}
	if err := requestValidator.Struct(req); err != nil {
		return models.PositionSample{}, fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	return req.Sample(), nil
}
