package sanitize

import (
	"regexp"

	"github.com/af-corp/aegis-orchestrator/internal/types"
)

// Threat classes, in the order they are evaluated.
const (
	ClassXSS              = "xss"
	ClassSQLInjection     = "sql_injection"
	ClassPromptInjection  = "prompt_injection"
	ClassDangerousKeyword = "dangerous_keyword"
	ClassSecret           = "secret"
)

// Rule defines a threat detection pattern.
type Rule struct {
	Class    string
	Name     string
	Regex    *regexp.Regexp
	Severity types.RiskLevel
}

// DefaultRules returns the built-in detection rules grouped by class.
func DefaultRules() []Rule {
	var rules []Rule
	rules = append(rules, xssRules()...)
	rules = append(rules, sqlRules()...)
	rules = append(rules, promptInjectionRules()...)
	rules = append(rules, dangerousKeywordRules()...)
	rules = append(rules, secretRules()...)
	return rules
}

func xssRules() []Rule {
	return []Rule{
		{
			Class:    ClassXSS,
			Name:     "script_tag",
			Regex:    regexp.MustCompile(`(?i)<\s*/?\s*script\b`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassXSS,
			Name:     "javascript_scheme",
			Regex:    regexp.MustCompile(`(?i)\b(java|vb)script\s*:`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassXSS,
			Name:     "event_handler",
			Regex:    regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*["'a-z]`),
			Severity: types.RiskMedium,
		},
		{
			Class:    ClassXSS,
			Name:     "embedded_frame",
			Regex:    regexp.MustCompile(`(?i)<\s*(iframe|object|embed|svg)\b`),
			Severity: types.RiskMedium,
		},
	}
}

func sqlRules() []Rule {
	return []Rule{
		{
			Class:    ClassSQLInjection,
			Name:     "union_select",
			Regex:    regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassSQLInjection,
			Name:     "destructive_statement",
			Regex:    regexp.MustCompile(`(?i);\s*(drop|truncate|delete|alter)\s+`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassSQLInjection,
			Name:     "tautology",
			Regex:    regexp.MustCompile(`(?i)'\s*or\s+'?(\w+)'?\s*=\s*'?(\w+)`),
			Severity: types.RiskMedium,
		},
		{
			Class:    ClassSQLInjection,
			Name:     "comment_sequence",
			Regex:    regexp.MustCompile(`;\s*--`),
			Severity: types.RiskMedium,
		},
		{
			Class:    ClassSQLInjection,
			Name:     "block_comment",
			Regex:    regexp.MustCompile(`(?s)/\*.*?\*/`),
			Severity: types.RiskLow,
		},
	}
}

func promptInjectionRules() []Rule {
	return []Rule{
		{
			Class:    ClassPromptInjection,
			Name:     "ignore_previous",
			Regex:    regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassPromptInjection,
			Name:     "disregard_prior",
			Regex:    regexp.MustCompile(`(?i)disregard\s+(all\s+)?prior\s+(instructions|context|rules)`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassPromptInjection,
			Name:     "hungarian_ignore",
			Regex:    regexp.MustCompile(`(?i)hagyd\s+figyelmen\s+kívül\s+(az\s+)?(összes\s+)?(korábbi|előző)`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassPromptInjection,
			Name:     "jailbreak",
			Regex:    regexp.MustCompile(`\bDAN\b|(?i:do\s+anything\s+now|jailbreak|unrestricted\s+mode)`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassPromptInjection,
			Name:     "code_block_system",
			Regex:    regexp.MustCompile("(?i)```system"),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassPromptInjection,
			Name:     "system_prefix",
			Regex:    regexp.MustCompile(`(?im)^\s*system\s*:\s*`),
			Severity: types.RiskMedium,
		},
		{
			Class:    ClassPromptInjection,
			Name:     "developer_mode",
			Regex:    regexp.MustCompile(`(?i)(developer|debug|admin|root)\s+mode\s+(enabled|activated|on)`),
			Severity: types.RiskMedium,
		},
		{
			Class:    ClassPromptInjection,
			Name:     "base64_instruction",
			Regex:    regexp.MustCompile(`(?i)(decode|execute|follow)\s+(the\s+)?base64`),
			Severity: types.RiskMedium,
		},
		{
			Class:    ClassPromptInjection,
			Name:     "new_instructions",
			Regex:    regexp.MustCompile(`(?i)(new|updated|revised)\s+instructions?\s*:`),
			Severity: types.RiskMedium,
		},
		{
			Class:    ClassPromptInjection,
			Name:     "response_prefix",
			Regex:    regexp.MustCompile(`(?i)respond\s+with\s*:\s*(sure|absolutely|of course)`),
			Severity: types.RiskLow,
		},
		{
			Class:    ClassPromptInjection,
			Name:     "you_are_now",
			Regex:    regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s+`),
			Severity: types.RiskLow,
		},
	}
}

func dangerousKeywordRules() []Rule {
	return []Rule{
		{
			Class:    ClassDangerousKeyword,
			Name:     "shell_command",
			Regex:    regexp.MustCompile(`(?i)(\brm\s+-rf\b|\bsudo\s+\w|/etc/(passwd|shadow)|\bchmod\s+[0-7]{3})`),
			Severity: types.RiskMedium,
		},
		{
			Class:    ClassDangerousKeyword,
			Name:     "code_evaluation",
			Regex:    regexp.MustCompile(`(?i)\b(eval|exec|system|popen)\s*\(`),
			Severity: types.RiskLow,
		},
		{
			Class:    ClassDangerousKeyword,
			Name:     "path_traversal",
			Regex:    regexp.MustCompile(`(\.\./){2,}`),
			Severity: types.RiskLow,
		},
	}
}

func secretRules() []Rule {
	return []Rule{
		{
			Class:    ClassSecret,
			Name:     "aws_access_key",
			Regex:    regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassSecret,
			Name:     "private_key",
			Regex:    regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA )?PRIVATE KEY-----`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassSecret,
			Name:     "github_token",
			Regex:    regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassSecret,
			Name:     "stripe_secret_key",
			Regex:    regexp.MustCompile(`sk_live_[A-Za-z0-9]{24,}`),
			Severity: types.RiskHigh,
		},
		{
			Class:    ClassSecret,
			Name:     "connection_string",
			Regex:    regexp.MustCompile(`(?:postgres|mysql|mongodb|redis)://[^\s]+`),
			Severity: types.RiskMedium,
		},
		{
			Class:    ClassSecret,
			Name:     "jwt",
			Regex:    regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
			Severity: types.RiskMedium,
		},
	}
}
