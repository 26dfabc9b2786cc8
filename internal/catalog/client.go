package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// NetworkError is returned when the catalog could not be reached or answered
// with an unexpected status. StatusCode is zero for transport failures.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog request %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("catalog request %s failed: status %d", e.URL, e.StatusCode)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Client reads products from the remote catalog service. Every call is a
// fresh request: nothing is cached or retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a catalog client rooted at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: util.GetLogger(),
	}
}

// ListProducts returns every product, or only those in category when it is non-empty
func (c *Client) ListProducts(ctx context.Context, category string) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.ListProducts")
	defer span.End()

	endpoint := c.baseURL + "/products"
	if category != "" {
		endpoint += "/category/" + url.PathEscape(category)
	}

	var products []models.Product
	found, err := c.get(ctx, "list", endpoint, &products)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if !found {
		// a list endpoint never legitimately 404s
		err = &NetworkError{URL: endpoint, StatusCode: http.StatusNotFound}
		util.RecordError(span, err)
		return nil, err
	}
	if products == nil {
		products = []models.Product{}
	}

	return products, nil
}

// GetProduct returns the product with id, or nil when the catalog has no such product.
// Not found is not an error.
func (c *Client) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.GetProduct")
	defer span.End()

	endpoint := c.baseURL + "/products/" + strconv.FormatInt(id, 10)

	var product *models.Product
	found, err := c.get(ctx, "get", endpoint, &product)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if !found || product == nil {
		return nil, nil
	}

	return product, nil
}

// get issues a GET and decodes the JSON body into out. A 404 reports found=false.
func (c *Client) get(ctx context.Context, op, endpoint string, out interface{}) (found bool, err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		util.CatalogRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		outcome = "error"
		return false, &NetworkError{URL: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "error"
		c.logger.Warn("Catalog request failed",
			zap.String("url", endpoint),
			zap.Error(err))
		return false, &NetworkError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		outcome = "not_found"
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = "error"
		c.logger.Warn("Catalog returned unexpected status",
			zap.String("url", endpoint),
			zap.Int("status", resp.StatusCode))
		return false, &NetworkError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	// the public catalog answers unknown ids with 200 and an empty body
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		outcome = "error"
		return false, &NetworkError{
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode catalog response: %w", err),
		}
	}

	return true, nil
}
