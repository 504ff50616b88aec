package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
)

// defaultCheckTimeout bounds a single dependency probe.
const defaultCheckTimeout = 2 * time.Second

// UpstreamCheck probes the Kafka REST Proxy upstream with a GET to its
// base URL. Any HTTP response counts as reachable; only transport
// failures mark the upstream unhealthy.
func UpstreamCheck(url string, client *http.Client) CheckFunc {
	if client == nil {
		client = &http.Client{Timeout: defaultCheckTimeout}
	}

	return func() Check {
		ctx, cancel := context.WithTimeout(context.Background(), defaultCheckTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Check{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("invalid upstream url: %v", err),
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return Check{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("upstream unreachable: %v", err),
			}
		}
		_ = resp.Body.Close()

		return Check{Status: StatusHealthy}
	}
}

// StoreCheck verifies the credential store answers. A reachable store
// with zero credentials is degraded: the gateway works but every
// request will be rejected.
func StoreCheck(store basic.Store) CheckFunc {
	return func() Check {
		ctx, cancel := context.WithTimeout(context.Background(), defaultCheckTimeout)
		defer cancel()

		n, err := store.Count(ctx)
		if err != nil {
			return Check{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("credential store: %v", err),
			}
		}

		if n == 0 {
			return Check{
				Status:  StatusDegraded,
				Message: "credential store is empty",
			}
		}

		return Check{Status: StatusHealthy}
	}
}
