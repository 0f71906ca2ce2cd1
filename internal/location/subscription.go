package location

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

// Criterion is the monitored condition of a circle subscription.
type Criterion string

const (
	Entering Criterion = "Entering"
	Leaving  Criterion = "Leaving"
)

// Opposite returns the criterion armed after this one fires.
func (c Criterion) Opposite() Criterion {
	if c == Entering {
		return Leaving
	}
	return Entering
}

// Valid reports whether c is a known criterion.
func (c Criterion) Valid() bool {
	return c == Entering || c == Leaving
}

// SubscriptionID identifies a circle subscription on the Location service.
type SubscriptionID string

// Subscription describes a circle notification subscription.
type Subscription struct {
	Criterion        Criterion
	Circle           wire.Circle
	Address          string
	CallbackData     string
	NotifyURL        string
	ClientCorrelator string
	Frequency        int
	TrackingAccuracy float64
	CheckImmediate   bool
}

// Notification is a decoded subscriptionNotification.
type Notification struct {
	Criterion  Criterion
	Final      bool
	Position   wire.Point
	Link       string
	ReceivedAt time.Time
}

// String returns a human-readable representation of the notification
func (n *Notification) String() string {
	return fmt.Sprintf("Notification{Criterion:%s, Position:%s, Final:%t}", n.Criterion, n.Position, n.Final)
}

type callbackReference struct {
	CallbackData string `json:"callbackData"`
	NotifyURL    string `json:"notifyURL"`
}

type circleSubscriptionBody struct {
	CallbackReference       callbackReference `json:"callbackReference"`
	CheckImmediate          string            `json:"checkImmediate"`
	Address                 string            `json:"address"`
	ClientCorrelator        string            `json:"clientCorrelator"`
	EnteringLeavingCriteria Criterion         `json:"enteringLeavingCriteria"`
	Frequency               int               `json:"frequency"`
	Radius                  float64           `json:"radius"`
	TrackingAccuracy        float64           `json:"trackingAccuracy"`
	Latitude                float64           `json:"latitude"`
	Longitude               float64           `json:"longitude"`
	ResourceURL             string            `json:"resourceURL,omitempty"`
}

type subscriptionEnvelope struct {
	CircleNotificationSubscription circleSubscriptionBody `json:"circleNotificationSubscription"`
}

type currentLocation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type terminalLocation struct {
	Address         string          `json:"address,omitempty"`
	CurrentLocation currentLocation `json:"currentLocation"`
}

// terminalLocationList is a single object for one terminal and an array
// for several.
type terminalLocationList []terminalLocation

func (l *terminalLocationList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []terminalLocation
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}

	var single terminalLocation
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*l = terminalLocationList{single}
	return nil
}

// looseBool accepts true/false as JSON booleans or strings.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*b = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean %s", data)
	}
	*b = looseBool(v)
	return nil
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type subscriptionNotification struct {
	EnteringLeavingCriteria Criterion            `json:"enteringLeavingCriteria"`
	IsFinalNotification     looseBool            `json:"isFinalNotification"`
	Link                    link                 `json:"link"`
	TerminalLocationList    terminalLocationList `json:"terminalLocationList"`
}

type notificationEnvelope struct {
	SubscriptionNotification *subscriptionNotification `json:"subscriptionNotification"`
}

func subscriptionBody(sub Subscription) circleSubscriptionBody {
	center := sub.Circle.Center()
	return circleSubscriptionBody{
		CallbackReference: callbackReference{
			CallbackData: sub.CallbackData,
			NotifyURL:    sub.NotifyURL,
		},
		CheckImmediate:          strconv.FormatBool(sub.CheckImmediate),
		Address:                 sub.Address,
		ClientCorrelator:        sub.ClientCorrelator,
		EnteringLeavingCriteria: sub.Criterion,
		Frequency:               sub.Frequency,
		Radius:                  sub.Circle.Radius,
		TrackingAccuracy:        sub.TrackingAccuracy,
		Latitude:                center.X,
		Longitude:               center.Y,
	}
}

// EncodeSubscription renders a subscription as a request body.
func EncodeSubscription(sub Subscription) ([]byte, error) {
	return json.Marshal(subscriptionEnvelope{CircleNotificationSubscription: subscriptionBody(sub)})
}

// DecodeSubscription parses a circleNotificationSubscription body.
func DecodeSubscription(data []byte) (Subscription, error) {
	var env subscriptionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Subscription{}, fmt.Errorf("failed to parse subscription JSON: %w", err)
	}

	body := env.CircleNotificationSubscription
	checkImmediate, _ := strconv.ParseBool(body.CheckImmediate)
	return Subscription{
		Criterion:        body.EnteringLeavingCriteria,
		Circle:           wire.Circle{X: body.Latitude, Y: body.Longitude, Radius: body.Radius},
		Address:          body.Address,
		CallbackData:     body.CallbackReference.CallbackData,
		NotifyURL:        body.CallbackReference.NotifyURL,
		ClientCorrelator: body.ClientCorrelator,
		Frequency:        body.Frequency,
		TrackingAccuracy: body.TrackingAccuracy,
		CheckImmediate:   checkImmediate,
	}, nil
}

// EncodeCreated renders the 201 body the Location service answers with.
func EncodeCreated(sub Subscription, resourceURL string) ([]byte, error) {
	body := subscriptionBody(sub)
	body.ResourceURL = resourceURL
	return json.Marshal(subscriptionEnvelope{CircleNotificationSubscription: body})
}

// EncodeNotification renders a subscriptionNotification body.
func EncodeNotification(n Notification) ([]byte, error) {
	body := struct {
		SubscriptionNotification struct {
			EnteringLeavingCriteria Criterion        `json:"enteringLeavingCriteria"`
			IsFinalNotification     string           `json:"isFinalNotification"`
			Link                    link             `json:"link"`
			TerminalLocationList    terminalLocation `json:"terminalLocationList"`
		} `json:"subscriptionNotification"`
	}{}

	sn := &body.SubscriptionNotification
	sn.EnteringLeavingCriteria = n.Criterion
	sn.IsFinalNotification = strconv.FormatBool(n.Final)
	sn.Link = link{Href: n.Link, Rel: "CircleNotificationSubscription"}
	sn.TerminalLocationList = terminalLocation{
		CurrentLocation: currentLocation{X: n.Position.X, Y: n.Position.Y},
	}
	return json.Marshal(body)
}

// DecodeNotification parses a subscriptionNotification body.
func DecodeNotification(data []byte) (*Notification, error) {
	var env notificationEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse notification JSON: %w", err)
	}
	if env.SubscriptionNotification == nil {
		return nil, fmt.Errorf("%w: missing subscriptionNotification", ErrUnexpectedMessage)
	}

	sn := env.SubscriptionNotification
	if len(sn.TerminalLocationList) == 0 {
		return nil, fmt.Errorf("%w: notification carries no terminal location", ErrUnexpectedMessage)
	}

	loc := sn.TerminalLocationList[0].CurrentLocation
	return &Notification{
		Criterion:  sn.EnteringLeavingCriteria,
		Final:      bool(sn.IsFinalNotification),
		Position:   wire.Point{X: loc.X, Y: loc.Y},
		Link:       sn.Link.Href,
		ReceivedAt: time.Now(),
	}, nil
}

// subscriptionIDFrom takes the last path segment of the resourceURL in a
// creation response, falling back to the Location header.
func subscriptionIDFrom(body []byte, locationHeader string) (SubscriptionID, error) {
	var env subscriptionEnvelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err == nil {
			if id := lastSegment(env.CircleNotificationSubscription.ResourceURL); id != "" {
				return SubscriptionID(id), nil
			}
		}
	}

	if id := lastSegment(locationHeader); id != "" {
		return SubscriptionID(id), nil
	}

	return "", ErrNoSubscriptionID
}

func lastSegment(resource string) string {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return ""
	}
	if u, err := url.Parse(resource); err == nil && u.Path != "" {
		resource = u.Path
	}

	seg := path.Base(strings.TrimRight(resource, "/"))
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}
