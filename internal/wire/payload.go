package wire

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
)

// Point is a position in simulation coordinate units.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Circle is a geofence: center and radius in simulation coordinate units.
type Circle struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Radius float64 `json:"radius" yaml:"radius"`
}

// Center returns the circle center.
func (c Circle) Center() Point {
	return Point{X: c.X, Y: c.Y}
}

// Contains reports whether p lies inside the circle or on its border.
func (c Circle) Contains(p Point) bool {
	return math.Hypot(p.X-c.X, p.Y-c.Y) <= c.Radius
}

// Validate checks that the circle can be monitored.
func (c Circle) Validate() error {
	if math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsInf(c.X, 0) || math.IsInf(c.Y, 0) {
		return fmt.Errorf("circle center must be finite, got (%v, %v)", c.X, c.Y)
	}
	if !(c.Radius > 0) || math.IsInf(c.Radius, 0) {
		return fmt.Errorf("circle radius must be positive and finite, got %v", c.Radius)
	}
	return nil
}

// String returns the "x,y,radius" payload form.
func (c Circle) String() string {
	return formatNumber(c.X) + "," + formatNumber(c.Y) + "," + formatNumber(c.Radius)
}

// String returns the "x,y" payload form.
func (p Point) String() string {
	return formatNumber(p.X) + "," + formatNumber(p.Y)
}

// ParseCircle parses an "x,y,radius" start payload.
func ParseCircle(data []byte) (Circle, error) {
	fields, err := parseNumbers(string(data), 3)
	if err != nil {
		return Circle{}, fmt.Errorf("start payload must be x,y,radius: %w", err)
	}

	c := Circle{X: fields[0], Y: fields[1], Radius: fields[2]}
	if err := c.Validate(); err != nil {
		return Circle{}, err
	}
	return c, nil
}

// ParsePoint parses an "x,y" payload.
func ParsePoint(data []byte) (Point, error) {
	fields, err := parseNumbers(string(data), 2)
	if err != nil {
		return Point{}, fmt.Errorf("position payload must be x,y: %w", err)
	}
	return Point{X: fields[0], Y: fields[1]}, nil
}

// ParseEndpoint validates a registry "host:port" payload and returns it.
// An empty payload is a refusal and yields an empty endpoint.
func ParseEndpoint(data []byte) (string, error) {
	endpoint := strings.TrimSpace(string(data))
	if endpoint == "" {
		return "", nil
	}

	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", fmt.Errorf("endpoint must be ip:port, got %q: %w", endpoint, err)
	}
	if host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("endpoint %q has invalid port", endpoint)
	}
	return endpoint, nil
}

func parseNumbers(s string, n int) ([]float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated values, got %d in %q", n, len(parts), s)
	}

	out := make([]float64, n)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d (%q): %w", i, part, err)
		}
		out[i] = v
	}
	return out, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
