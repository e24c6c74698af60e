package resources

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"
)

// yamlResource renders v as a YAML resource, or an error resource when it
// cannot be encoded.
func yamlResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errorResource(uri, err.Error()), nil
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/yaml",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
