package location

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrServiceNotFound is returned when the registry lists no usable endpoint.
var ErrServiceNotFound = errors.New("service not found in registry")

// DiscoveryConfig contains service registry lookup configuration
type DiscoveryConfig struct {
	RegistryURL string
	ServiceName string
	Timeout     time.Duration
	MaxRetries  int
}

type serviceInfo struct {
	SerName       string `json:"serName"`
	TransportInfo struct {
		EndPoint struct {
			Addresses json.RawMessage `json:"addresses"`
		} `json:"endPoint"`
	} `json:"transportInfo"`
}

type serviceAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Discover asks the MEC service registry for the endpoint of the named
// service and returns it as "host:port".
func Discover(ctx context.Context, config DiscoveryConfig, logger *slog.Logger) (string, error) {
	if config.RegistryURL == "" {
		return "", errors.New("service registry URL cannot be empty")
	}

	if config.ServiceName == "" {
		config.ServiceName = "LocationService"
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	httpClient := &http.Client{Timeout: config.Timeout}

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * 500 * time.Millisecond
			if backoffTime > 10*time.Second {
				backoffTime = 10 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		endpoint, err := lookupService(ctx, httpClient, config)
		if err == nil {
			logger.Info("Service discovered",
				slog.String("service", config.ServiceName),
				slog.String("endpoint", endpoint))
			return endpoint, nil
		}

		lastErr = err
		logger.Warn("Service discovery attempt failed",
			slog.String("service", config.ServiceName),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		if errors.Is(err, ErrServiceNotFound) {
			break
		}
	}

	return "", errors.Wrapf(lastErr, "discovery of %s failed after %d attempts", config.ServiceName, config.MaxRetries+1)
}

func lookupService(ctx context.Context, httpClient *http.Client, config DiscoveryConfig) (string, error) {
	query := url.Values{"ser_name": {config.ServiceName}}
	target := strings.TrimRight(config.RegistryURL, "/") + "/services?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create registry request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "registry request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read registry response")
	}

	if resp.StatusCode == http.StatusNotFound {
		return "", errors.Wrapf(ErrServiceNotFound, "registry answered 404 for %s", config.ServiceName)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Errorf("registry answered HTTP %d: %s", resp.StatusCode, string(body))
	}

	return parseServiceList(body, config.ServiceName)
}

// parseServiceList accepts a list of service infos or a single one and
// returns the first address of the named service.
func parseServiceList(body []byte, serviceName string) (string, error) {
	var services []serviceInfo
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var single serviceInfo
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return "", errors.Wrap(err, "failed to parse registry response JSON")
		}
		services = append(services, single)
	} else if err := json.Unmarshal(trimmed, &services); err != nil {
		return "", errors.Wrap(err, "failed to parse registry response JSON")
	}

	for _, svc := range services {
		if svc.SerName != "" && svc.SerName != serviceName {
			continue
		}

		addr, ok := firstAddress(svc.TransportInfo.EndPoint.Addresses)
		if !ok {
			continue
		}
		return net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port)), nil
	}

	return "", errors.Wrapf(ErrServiceNotFound, "no endpoint listed for %s", serviceName)
}

func firstAddress(raw json.RawMessage) (serviceAddress, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return serviceAddress{}, false
	}

	var addrs []serviceAddress
	if raw[0] == '{' {
		var single serviceAddress
		if err := json.Unmarshal(raw, &single); err != nil {
			return serviceAddress{}, false
		}
		addrs = append(addrs, single)
	} else if err := json.Unmarshal(raw, &addrs); err != nil {
		return serviceAddress{}, false
	}

	for _, a := range addrs {
		if a.Host != "" && a.Port > 0 && a.Port <= 65535 {
			return a, true
		}
	}
	return serviceAddress{}, false
}
