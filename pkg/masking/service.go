package masking

import (
	"log/slog"

	"github.com/agentkernel/gateway/pkg/config"
)

// SecretMaskingConfig holds default redaction settings applied to content
// that doesn't come from a specific MCP server — audit log entries and
// policy/capability decision records (§4.3, §7).
type SecretMaskingConfig struct {
	Enabled      bool
	PatternGroup string
}

// MaskingService applies data masking to MCP tool results and to audit log
// entries before they are persisted. Created once at application startup
// (singleton). Thread-safe and stateless aside from compiled patterns.
type MaskingService struct {
	registry             *config.MCPServerRegistry
	patterns             map[string]*CompiledPattern // Built-in + custom compiled patterns
	patternGroups        map[string][]string         // Group name → pattern names
	codeMaskers          map[string]Masker           // Registered code-based maskers
	auditMasking         SecretMaskingConfig         // Audit log entry masking settings
	serverCustomPatterns map[string][]string         // serverID → custom pattern keys
}

// NewMaskingService creates a masking service with compiled patterns and registered maskers.
// All patterns are compiled eagerly at creation time. Invalid patterns are logged and skipped.
func NewMaskingService(
	registry *config.MCPServerRegistry,
	auditCfg SecretMaskingConfig,
) *MaskingService {
	s := &MaskingService{
		registry:             registry,
		patterns:             make(map[string]*CompiledPattern),
		patternGroups:        config.GetBuiltinConfig().PatternGroups,
		codeMaskers:          make(map[string]Masker),
		auditMasking:         auditCfg,
		serverCustomPatterns: make(map[string][]string),
	}

	// 1. Compile all built-in regex patterns
	s.compileBuiltinPatterns()

	// 2. Compile custom patterns from all MCP server configs
	s.compileCustomPatterns()

	// 3. Register code-based maskers
	s.registerMasker(&KubernetesSecretMasker{})

	slog.Info("Masking service initialized",
		"builtin_patterns", len(config.GetBuiltinConfig().MaskingPatterns),
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers),
		"audit_masking_enabled", auditCfg.Enabled)

	return s
}

// MaskToolResult applies server-specific masking to MCP tool result content.
// Returns masked content. On masking failure, returns a redaction notice (fail-closed).
func (s *MaskingService) MaskToolResult(content string, serverID string) string {
	if content == "" {
		return content
	}

	serverCfg, err := s.registry.Get(serverID)
	if err != nil || serverCfg.DataMasking == nil || !serverCfg.DataMasking.Enabled {
		return content // No masking configured
	}

	resolved := s.resolvePatterns(serverCfg.DataMasking, serverID)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return content
	}

	masked, err := s.applyMasking(content, resolved)
	if err != nil {
		slog.Error("Masking failed, redacting content (fail-closed)",
			"server", serverID, "error", err)
		return "[REDACTED: data masking failure — tool result could not be safely processed]"
	}

	return masked
}

// MaskAuditEntry applies masking to audit log detail payloads using the
// configured pattern group before they are persisted or forwarded (§4.3, §7).
// Returns masked data; on failure returns original data (fail-open — audit
// entries must never be silently dropped).
func (s *MaskingService) MaskAuditEntry(data string) string {
	if !s.auditMasking.Enabled || data == "" {
		return data
	}

	resolved := s.resolvePatternsFromGroup(s.auditMasking.PatternGroup)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return data
	}

	masked, err := s.applyMasking(data, resolved)
	if err != nil {
		slog.Error("Audit masking failed, continuing with unmasked data (fail-open)",
			"error", err)
		return data
	}

	return masked
}

// applyMasking applies code-based maskers then regex patterns to content.
func (s *MaskingService) applyMasking(content string, resolved *resolvedPatterns) (string, error) {
	masked := content

	// Phase 1: Code-based maskers (more specific, structural awareness)
	for _, maskerName := range resolved.codeMaskerNames {
		masker, ok := s.codeMaskers[maskerName]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	// Phase 2: Regex patterns (general sweep)
	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked, nil
}

// registerMasker registers a code-based masker by its name.
func (s *MaskingService) registerMasker(m Masker) {
	s.codeMaskers[m.Name()] = m
}
