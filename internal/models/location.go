package models

// PositionSample is a single device reading as authored by a producer.
// Accuracy, Speed and Heading are nil when the device does not report them.
type PositionSample struct {
	UserID    string   `bson:"user_id" json:"user_id" validate:"required,max=128"`
	UserName  string   `bson:"user_name" json:"user_name" validate:"required,max=128"`
	Latitude  float64  `bson:"latitude" json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64  `bson:"longitude" json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  *float64 `bson:"accuracy" json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	Speed     *float64 `bson:"speed" json:"speed"`
	Heading   *float64 `bson:"heading" json:"heading"`
	Color     string   `bson:"color" json:"color" validate:"required,max=32"`
}

// Float returns a pointer to v, for building samples with optional readings.
func Float(v float64) *float64 {
	return &v
}

// PositionRequest is a sample as it arrives over HTTP or MQTT. Coordinates
// are pointers so an absent field is told apart from 0. Identity and
// metadata are checked once the sample reaches the store.
type PositionRequest struct {
	UserID    string   `json:"user_id"`
	UserName  string   `json:"user_name"`
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading"`
	Color     string   `json:"color"`
}

// Sample converts a validated request. Missing coordinates become 0.
func (r PositionRequest) Sample() PositionSample {
	s := PositionSample{
		UserID:   r.UserID,
		UserName: r.UserName,
		Accuracy: r.Accuracy,
		Speed:    r.Speed,
		Heading:  r.Heading,
		Color:    r.Color,
	}
	if r.Latitude != nil {
		s.Latitude = *r.Latitude
	}
	if r.Longitude != nil {
		s.Longitude = *r.Longitude
	}
	return s
}
