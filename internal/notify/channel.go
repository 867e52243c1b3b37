package notify

import (
	"context"
	"errors"
)

// Audience identifies which recipient group a message was built for.
type Audience string

const (
	AudienceCreator     Audience = "creator"
	AudienceTechnicians Audience = "technicians"
	AudienceSupervisors Audience = "supervisors"
)

// Message is the payload delivered to one recipient.
type Message struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	URL      string   `json:"url"`
	Icon     string   `json:"icon,omitempty"`
	Audience Audience `json:"-"`
}

// Channel delivers a message to a single recipient, best-effort.
type Channel interface {
	Name() string
	Send(ctx context.Context, recipientID int64, msg Message) error
}

// Fanout sends through every channel and joins their errors.
type Fanout struct {
	channels []Channel
}

// NewFanout drops nil channels.
func NewFanout(channels ...Channel) *Fanout {
	f := &Fanout{}
	for _, ch := range channels {
		if ch != nil {
			f.channels = append(f.channels, ch)
		}
	}
	return f
}

func (f *Fanout) Name() string { return "fanout" }

// Send attempts all channels even when one fails.
func (f *Fanout) Send(ctx context.Context, recipientID int64, msg Message) error {
	var errs []error
	for _, ch := range f.channels {
		if err := ch.Send(ctx, recipientID, msg); err != nil {
			errs = append(errs, &DeliveryError{Channel: ch.Name(), RecipientID: recipientID, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Channels returns the wrapped channels.
func (f *Fanout) Channels() []Channel {
	return append([]Channel(nil), f.channels...)
}

// DeliveryError tags a failure with the channel that produced it.
type DeliveryError struct {
	Channel     string
	RecipientID int64
	Err         error
}

func (e *DeliveryError) Error() string {
	return e.Channel + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }
