// Package dojo publishes triage reports to DefectDojo.
package dojo

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/triageio/internal/config"
	"github.com/scan-io-git/triageio/pkg/shared/httpclient"
)

const (
	DefaultProductType = "TRIAGEIO"
	ScanTypeSARIF      = "SARIF"
	engagementName     = "triageio"
)

type Client struct {
	httpc  *resty.Client
	url    string
	logger hclog.Logger
}

// New builds a client on the shared HTTP settings, authenticated with the configured token.
func New(logger hclog.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	base := strings.TrimRight(cfg.DefectDojo.URL, "/")
	httpc := httpclient.InitializeRestyClient(logger, cfg)
	httpc.SetBaseURL(base)
	httpc.SetHeader("Authorization", fmt.Sprintf("Token %s", cfg.DefectDojo.Token()))

	return &Client{
		httpc:  httpc,
		url:    base,
		logger: logger.Named("dojo"),
	}
}

type ProductType struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Engagement struct {
	ID        int `json:"id"`
	ProductID int `json:"product"`
}

// page is the envelope of DefectDojo list endpoints.
type page[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

// findOne returns the single object named name, nil when there is none.
func findOne[T any](ctx context.Context, c *Client, path, kind, name string) (*T, error) {
	var r page[T]
	resp, err := c.httpc.R().
		SetContext(ctx).
		SetQueryParam("name", name).
		SetResult(&r).
		Get(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%d on getting %s '%s'", resp.StatusCode(), kind, name)
	}
	if r.Count > 1 || len(r.Results) > 1 {
		return nil, fmt.Errorf("multiple %ss with the same name '%s'", kind, name)
	}
	if len(r.Results) == 0 {
		return nil, nil
	}
	return &r.Results[0], nil
}

func create[T any](ctx context.Context, c *Client, path, kind string, form map[string]string) (*T, error) {
	var out T
	resp, err := c.httpc.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		Post(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("%d on creating %s '%s'", resp.StatusCode(), kind, form["name"])
	}
	return &out, nil
}

func (c *Client) GetOrCreateProductType(ctx context.Context, name string) (*ProductType, error) {
	pt, err := findOne[ProductType](ctx, c, "/api/v2/product_types/", "product_type", name)
	if err != nil || pt != nil {
		return pt, err
	}
	c.logger.Info("creating product type", "name", name)
	return create[ProductType](ctx, c, "/api/v2/product_types/", "product_type", map[string]string{"name": name})
}

func (c *Client) GetOrCreateProduct(ctx context.Context, name string, productType ProductType) (*Product, error) {
	p, err := findOne[Product](ctx, c, "/api/v2/products/", "product", name)
	if err != nil || p != nil {
		return p, err
	}
	c.logger.Info("creating product", "name", name, "product_type", productType.Name)
	return create[Product](ctx, c, "/api/v2/products/", "product", map[string]string{
		"name":        name,
		"description": fmt.Sprintf("Risk triage results for '%s'", name),
		"prod_type":   strconv.Itoa(productType.ID),
	})
}

// CreateEngagement opens a completed engagement for today's run.
func (c *Client) CreateEngagement(ctx context.Context, product Product, now time.Time) (*Engagement, error) {
	day := now.Format("2006-01-02")
	return create[Engagement](ctx, c, "/api/v2/engagements/", "engagement", map[string]string{
		"target_start": day,
		"target_end":   day,
		"status":       "Completed",
		"product":      strconv.Itoa(product.ID),
		"name":         engagementName,
	})
}

func (c *Client) ImportScanResult(ctx context.Context, engagement Engagement, resultPath, scanType string) error {
	resp, err := c.httpc.R().
		SetContext(ctx).
		SetFile("file", resultPath).
		SetFormData(map[string]string{
			"engagement": strconv.Itoa(engagement.ID),
			"scan_type":  scanType,
		}).
		Post("/api/v2/import-scan/")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("%d on importing results to engagement '%d'", resp.StatusCode(), engagement.ID)
	}
	return nil
}

// PublishSARIF imports the SARIF report at path into a new engagement of product, creating the
// product and its type when missing.
func (c *Client) PublishSARIF(ctx context.Context, productTypeName, productName, path string) (*Engagement, error) {
	if productName == "" {
		return nil, fmt.Errorf("a DefectDojo product name is required")
	}
	pt, err := c.GetOrCreateProductType(ctx, config.SetThen(productTypeName, DefaultProductType))
	if err != nil {
		return nil, err
	}
	product, err := c.GetOrCreateProduct(ctx, productName, *pt)
	if err != nil {
		return nil, err
	}
	engagement, err := c.CreateEngagement(ctx, *product, time.Now())
	if err != nil {
		return nil, err
	}
	if err := c.ImportScanResult(ctx, *engagement, path, ScanTypeSARIF); err != nil {
		return nil, err
	}
	c.logger.Info("report imported", "url", c.url, "product", productName, "engagement", engagement.ID)
	return engagement, nil
}
