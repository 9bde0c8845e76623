package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/analytics"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic/selectors"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

const toolTimeout = 10 * time.Second

type GetAdAnalyticsInput struct {
	AdID      int64  `json:"ad_id"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

type GetActiveAdsInput struct {
	PlacementCode string `json:"placement_code"`
	Limit         int    `json:"limit,omitempty"`
}

type ValidateTargetingRulesInput struct {
	Rules json.RawMessage `json:"rules"`
}

// ToolServer exposes read-only ad operations as MCP tools.
type ToolServer struct {
	selector  selectors.Selector
	analytics *analytics.Aggregator
	logger    *zap.Logger
}

func NewToolServer(selector selectors.Selector, agg *analytics.Aggregator, logger *zap.Logger) *ToolServer {
	return &ToolServer{selector: selector, analytics: agg, logger: logger}
}

// jsonResult wraps v as the text content of a tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

// GetAdAnalytics implements the get_ad_analytics tool.
func (s *ToolServer) GetAdAnalytics(ctx context.Context, req *mcp.CallToolRequest, input GetAdAnalyticsInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	if input.AdID <= 0 {
		return nil, nil, fmt.Errorf("ad_id must be a positive integer")
	}
	var (
		r   models.DateRange
		err error
	)
	if r.Start, err = models.ParseDateBound(input.StartDate, false); err != nil {
		return nil, nil, fmt.Errorf("start_date: %w", err)
	}
	if r.End, err = models.ParseDateBound(input.EndDate, true); err != nil {
		return nil, nil, fmt.Errorf("end_date: %w", err)
	}

	res, err := s.analytics.GetAdAnalytics(ctx, input.AdID, r)
	if err != nil {
		s.logger.Warn("get_ad_analytics failed", zap.Int64("ad_id", input.AdID), zap.Error(err))
		return nil, nil, err
	}
	out, err := jsonResult(res)
	return out, nil, err
}

// GetActiveAds implements the get_active_ads tool.
func (s *ToolServer) GetActiveAds(ctx context.Context, req *mcp.CallToolRequest, input GetActiveAdsInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	if input.PlacementCode == "" {
		return nil, nil, fmt.Errorf("placement_code is required")
	}
	ads, err := s.selector.GetActiveAds(ctx, input.PlacementCode, input.Limit, nil)
	if err != nil {
		s.logger.Warn("get_active_ads failed", zap.String("placement", input.PlacementCode), zap.Error(err))
		return nil, nil, err
	}
	out, err := jsonResult(map[string]any{"ads": ads})
	return out, nil, err
}

// ValidateTargetingRules implements the validate_targeting_rules tool. The
// verdict itself is never a tool error.
func (s *ToolServer) ValidateTargetingRules(ctx context.Context, req *mcp.CallToolRequest, input ValidateTargetingRulesInput) (*mcp.CallToolResult, any, error) {
	res, _ := logic.ValidateTargetingRulesJSON(input.Rules)
	out, err := jsonResult(res)
	return out, nil, err
}

// Register adds every tool to server.
func (s *ToolServer) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_ad_analytics",
		Description: "Impressions, clicks, CTR, unique users, daily stats and top placements for one ad",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ad_id": map[string]any{
					"type":        "integer",
					"description": "Ad ID",
				},
				"start_date": map[string]any{
					"type":        "string",
					"description": "Inclusive start, RFC3339 or YYYY-MM-DD (optional)",
				},
				"end_date": map[string]any{
					"type":        "string",
					"description": "Inclusive end, RFC3339 or YYYY-MM-DD (optional)",
				},
			},
			"required": []string{"ad_id"},
		},
	}, s.GetAdAnalytics)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_active_ads",
		Description: "Servable ads for a placement in priority order, without targeting",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"placement_code": map[string]any{
					"type":        "string",
					"description": "Placement code, e.g. homepage or sidebar",
				},
				"limit": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     selectors.MaxLimit,
					"description": "Maximum ads to return (optional, defaults to 5)",
				},
			},
			"required": []string{"placement_code"},
		},
	}, s.GetActiveAds)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "validate_targeting_rules",
		Description: "Structural validation of a targeting rule set",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"rules": map[string]any{
					"type":        "object",
					"description": "Targeting rules: roles, subscriptionPlans, ageRange, locations, interests, behavior",
				},
			},
			"required": []string{"rules"},
		},
	}, s.ValidateTargetingRules)
}
