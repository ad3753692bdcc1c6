package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// resourceHandlerFunc produces the JSON payload for one resource read.
// params holds the values extracted from the resource's URI template.
type resourceHandlerFunc func(ctx context.Context, params map[string]string) ([]byte, error)

// wrapResourceHandler adapts a payload-producing handler to the mcp-go
// read signature, extracting URI template variables from the concrete
// request URI.
func wrapResourceHandler(
	uriTemplate string,
	handler resourceHandlerFunc,
) func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		params, ok := matchURI(uriTemplate, request.Params.URI)
		if !ok {
			params = make(map[string]string)
		}

		data, err := handler(ctx, params)
		if err != nil {
			return nil, err
		}

		return []mcp.ResourceContents{
			&mcp.TextResourceContents{
				URI:      request.Params.URI,
				Text:     string(data),
				MIMEType: resourceMIMEType,
			},
		}, nil
	}
}

// matchURI matches a concrete URI against a URI template segment by
// segment. It returns the values bound to the template's {variables}, or
// false when the URI does not fit the template.
func matchURI(uriTemplate, uri string) (map[string]string, bool) {
	templateParts := strings.Split(uriTemplate, "/")
	uriParts := strings.Split(uri, "/")
	if len(templateParts) != len(uriParts) {
		return nil, false
	}

	params := make(map[string]string)
	for i, part := range templateParts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			value := uriParts[i]
			if value == "" {
				return nil, false
			}
			params[strings.Trim(part, "{}")] = value
			continue
		}
		if part != uriParts[i] {
			return nil, false
		}
	}
	return params, true
}

// newToolResultFromResponse converts a ToolResponse into an MCP tool
// result, preserving structured data as embedded resources instead of
// flattening everything to text.
func newToolResultFromResponse(response *ToolResponse) (*mcp.CallToolResult, error) {
	if response == nil || len(response.Content) == 0 {
		return mcp.NewToolResultText("No content available"), nil
	}

	mcpContent := make([]mcp.Content, 0, len(response.Content))
	for _, content := range response.Content {
		item, err := convertToMCPContent(content)
		if err != nil {
			return nil, err
		}
		mcpContent = append(mcpContent, item)
	}

	return &mcp.CallToolResult{Content: mcpContent}, nil
}

// convertToMCPContent converts a single content item to MCP Content
func convertToMCPContent(content any) (mcp.Content, error) {
	switch v := content.(type) {
	case map[string]any:
		return convertMapToMCPContent(v)
	case string:
		return mcp.TextContent{Type: "text", Text: v}, nil
	default:
		return convertObjectToText(v)
	}
}

// convertMapToMCPContent handles the {"type": ...} envelope entries
func convertMapToMCPContent(v map[string]any) (mcp.Content, error) {
	switch v["type"] {
	case "text":
		if text, ok := v["text"].(string); ok {
			return mcp.TextContent{Type: "text", Text: text}, nil
		}
	case "resource":
		return convertResourceContent(v)
	}
	return convertObjectToText(v)
}

// convertResourceContent renders a resource entry as an embedded resource
// with its data marshaled to JSON
func convertResourceContent(v map[string]any) (mcp.Content, error) {
	resourceData, ok := v["resource"].(map[string]any)
	if !ok {
		return convertObjectToText(v)
	}

	uri, hasURI := resourceData["uri"].(string)
	data, hasData := resourceData["data"]
	if !hasURI || !hasData {
		return convertObjectToText(v)
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource data: %w", err)
	}

	return mcp.EmbeddedResource{
		Type: "resource",
		Resource: &mcp.TextResourceContents{
			URI:      uri,
			Text:     string(jsonData),
			MIMEType: resourceMIMEType,
		},
	}, nil
}

// convertObjectToText converts any object to JSON text content
func convertObjectToText(v any) (mcp.Content, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content: %w", err)
	}
	return mcp.TextContent{Type: "text", Text: string(jsonData)}, nil
}

// Helper to get string with default empty
func getString(req mcp.CallToolRequest, key string) string {
	return req.GetString(key, "")
}

// Helper to get an integer from the raw arguments; JSON numbers arrive
// as float64
func getInt(req mcp.CallToolRequest, key string, fallback int) int {
	switch v := req.GetArguments()[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

// textContent builds a text entry for a ToolResponse
func textContent(text string) map[string]any {
	return map[string]any{
		"type": "text",
		"text": text,
	}
}

// resourceContent builds an embedded resource entry for a ToolResponse
func resourceContent(uri string, data any) map[string]any {
	return map[string]any{
		"type": "resource",
		"resource": map[string]any{
			"uri":  uri,
			"data": data,
		},
	}
}
