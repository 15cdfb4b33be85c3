package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/kubebox/config"
	"github.com/isdmx/kubebox/sandbox"
	"github.com/isdmx/kubebox/storage"
)

// ExecuteCodeTool is the name of the code execution tool
const ExecuteCodeTool = "execute_code"

// executionResult is the JSON text returned by the execute_code tool
type executionResult struct {
	Output            string `json:"output"`
	Error             string `json:"error"`
	OutputFilePath    string `json:"output_file_path,omitempty"`
	OutputFileContent string `json:"output_file_content,omitempty"`
}

// MCPServer represents the MCP server
type MCPServer struct {
	config      *config.Config
	logger      *zap.Logger
	sandboxExec sandbox.SandboxExecutor
	storage     *storage.SharedStorage
	languages   []string
	mcpServer   *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, sandboxExec sandbox.SandboxExecutor, store *storage.SharedStorage) (*MCPServer, error) {
	s := &MCPServer{
		config:      cfg,
		logger:      logger,
		sandboxExec: sandboxExec,
		storage:     store,
		languages:   supportedLanguages(cfg, sandboxExec),
	}

	if len(s.languages) == 0 {
		return nil, errors.New("no languages configured")
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.String("sandbox.shared_root", cfg.Sandbox.SharedRoot),
		zap.String("kubernetes.namespace", cfg.Kubernetes.Namespace),
		zap.Strings("languages", s.languages),
	)

	s.mcpServer = server.NewMCPServer("kubebox", config.Version)

	s.registerExecuteCodeTool()

	return s, nil
}

// supportedLanguages prefers what the executor reports and falls back to the configured table
func supportedLanguages(cfg *config.Config, sandboxExec sandbox.SandboxExecutor) []string {
	if lister, ok := sandboxExec.(sandbox.LanguageLister); ok {
		return lister.Languages()
	}

	languages := make([]string, 0, len(cfg.Languages))
	for name := range cfg.Languages {
		languages = append(languages, strings.ToLower(name))
	}
	slices.Sort(languages)
	return languages
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        ExecuteCodeTool,
		Description: "Execute untrusted code in a sandboxed Kubernetes job",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "User-provided source code",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Runtime language",
					"enum":        s.languages,
				},
				"input_file": map[string]any{
					"type":        "string",
					"description": "Base64-encoded input file made available to the program (optional)",
				},
				"input_filename": map[string]any{
					"type":        "string",
					"description": "Name of the input file, used for its extension (optional)",
				},
				"output_extension": map[string]any{
					"type":        "string",
					"description": "Extension of the output file the program may write, e.g. .txt (optional)",
				},
			},
			Required: []string{"code", "language"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}

	if !slices.Contains(s.languages, language) {
		return nil, fmt.Errorf("invalid language: %s, must be one of: %s", language, strings.Join(s.languages, ", "))
	}

	req := sandbox.ExecutionRequest{
		Language:        language,
		Code:            code,
		OutputExtension: request.GetString("output_extension", ""),
	}

	if encoded := request.GetString("input_file", ""); encoded != "" {
		data, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to decode input_file: %w", decodeErr)
		}
		inputPath, saveErr := s.storage.SaveInput(bytes.NewReader(data), request.GetString("input_filename", ""))
		if saveErr != nil {
			return nil, saveErr
		}
		defer s.storage.Remove(inputPath)
		req.InputArtifactPath = inputPath
	}

	s.logger.Info("executing code in sandbox",
		zap.String("language", language),
		zap.Bool("has_input_file", req.InputArtifactPath != ""),
		zap.String("output_extension", req.OutputExtension))

	outcome, err := s.sandboxExec.Execute(ctx, req)
	if err != nil {
		s.logger.Error("sandbox execution failed",
			zap.Error(err),
			zap.String("language", language))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Execution failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	s.storage.AttachArtifact(&outcome)

	s.logger.Info("code execution completed",
		zap.String("language", language),
		zap.Int("output_len", len(outcome.Output)),
		zap.Int("error_len", len(outcome.ErrorText)),
		zap.Bool("has_artifact", outcome.OutputArtifactContent != ""))

	resultJSON, err := json.Marshal(executionResult{
		Output:            outcome.Output,
		Error:             outcome.ErrorText,
		OutputFilePath:    outcome.OutputArtifactPath,
		OutputFileContent: outcome.OutputArtifactContent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
