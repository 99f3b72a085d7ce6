package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// GetDashboardStats fetches the aggregate dashboard counters.
func (c *Client) GetDashboardStats(ctx context.Context) (*DashboardStats, error) {
	var stats DashboardStats
	if err := c.get(ctx, "/api/v1/dashboard/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListScans fetches up to limit scans, newest first. limit <= 0 uses the
// server default.
func (c *Client) ListScans(ctx context.Context, limit int) ([]Scan, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp scanListResponse
	if err := c.get(ctx, "/api/v1/scans", query, &resp); err != nil {
		return nil, err
	}
	return resp.Scans, nil
}

// GetScan fetches one scan by ID.
func (c *Client) GetScan(ctx context.Context, id int) (*Scan, error) {
	var scan Scan
	if err := c.get(ctx, fmt.Sprintf("/api/v1/scans/%d", id), nil, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

// ListVulnerabilities fetches findings, optionally filtered by scan ID
// (scanID <= 0 means all scans).
func (c *Client) ListVulnerabilities(ctx context.Context, scanID int) ([]Vulnerability, error) {
	query := url.Values{}
	if scanID > 0 {
		query.Set("scan_id", strconv.Itoa(scanID))
	}

	var resp vulnListResponse
	if err := c.get(ctx, "/api/v1/vulnerabilities", query, &resp); err != nil {
		return nil, err
	}
	return resp.Vulnerabilities, nil
}

// FetchDashboard fetches stats and the recent scan list concurrently. It is
// the refresh call the Refresh Coordinator drives.
func (c *Client) FetchDashboard(ctx context.Context) (*DashboardSnapshot, error) {
	var snap DashboardSnapshot

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := c.GetDashboardStats(ctx)
		if err != nil {
			return fmt.Errorf("dashboard stats: %w", err)
		}
		snap.Stats = *stats
		return nil
	})
	g.Go(func() error {
		scans, err := c.ListScans(ctx, 20)
		if err != nil {
			return fmt.Errorf("list scans: %w", err)
		}
		snap.Scans = scans
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &snap, nil
}
