// Package redact scans text for sensitive data and replaces it with
// fixed per-category placeholders.
package redact

import (
	"regexp"
	"strings"
)

// Category identifies a class of sensitive data.
type Category string

// Pattern couples a category with its compiled matcher and placeholder.
// The table is built once at package load; order is significant because
// broader patterns must not consume fragments of more specific ones.
type Pattern struct {
	Category    Category
	Matcher     *regexp.Regexp
	Placeholder string
}

func pat(category, expr string) Pattern {
	return Pattern{
		Category:    Category(category),
		Matcher:     regexp.MustCompile(expr),
		Placeholder: "[REDACTED_" + strings.ToUpper(category) + "]",
	}
}

// patterns is the primary redaction table. Specific, high-confidence
// matchers come first: key material, cloud credentials, tokens,
// connection strings, then network and personal identifiers.
//
// Assignment-style matchers exclude '[' from the value class so that a
// placeholder inserted by an earlier pass is never re-matched.
var patterns = []Pattern{
	// Cryptographic key material
	pat("private_key_block", `-----BEGIN (?:RSA |EC |DSA |OPENSSH |ENCRYPTED |PGP )?PRIVATE KEY(?: BLOCK)?-----[\s\S]*?-----END (?:RSA |EC |DSA |OPENSSH |ENCRYPTED |PGP )?PRIVATE KEY(?: BLOCK)?-----`),
	pat("pgp_message", `-----BEGIN PGP MESSAGE-----[\s\S]*?-----END PGP MESSAGE-----`),

	// Cloud credentials
	pat("aws_access_key", `\b(?:AKIA|ASIA|ABIA|ACCA)[0-9A-Z]{16}\b`),
	pat("aws_secret_key", `(?i)\baws_?secret_?(?:access_?)?key\b['"]?\s*[=:]\s*['"]?[A-Za-z0-9/+=]{40}\b`),
	pat("aws_session_token", `(?i)\baws_?session_?token\b['"]?\s*[=:]\s*['"]?[A-Za-z0-9/+=]{16,}\b`),
	pat("gcp_api_key", `\bAIza[0-9A-Za-z_-]{35}\b`),
	pat("gcp_service_account", `\b[a-z][a-z0-9-]*@[a-z][a-z0-9-]*\.iam\.gserviceaccount\.com\b`),
	pat("azure_storage_key", `(?i)\bAccountKey=[A-Za-z0-9+/=]{40,}`),

	// Service tokens
	pat("github_token", `\bgh[pousr]_[A-Za-z0-9]{36,255}\b`),
	pat("gitlab_token", `\bglpat-[A-Za-z0-9_-]{20,}\b`),
	pat("slack_token", `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`),
	pat("slack_webhook", `https://hooks\.slack\.com/services/T[A-Za-z0-9_/]+`),
	pat("stripe_key", `\b[sr]k_(?:live|test)_[A-Za-z0-9]{16,}\b`),
	pat("sendgrid_key", `\bSG\.[A-Za-z0-9_-]{22}\.[A-Za-z0-9_-]{43}\b`),
	pat("twilio_key", `\bSK[a-f0-9]{32}\b`),
	pat("npm_token", `\bnpm_[A-Za-z0-9]{36}\b`),
	pat("openai_key", `\bsk-[A-Za-z0-9_-]{32,}\b`),
	pat("jwt", `\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),

	// Auth headers and credential assignments
	pat("bearer_token", `(?i)\bbearer\s+[A-Za-z0-9._=-]{16,}`),
	pat("basic_auth", `(?i)\bbasic\s+[A-Za-z0-9+/=]{16,}`),
	pat("api_key_assignment", `(?i)\b(?:api[_-]?key|x-api-key)\b['"]?\s*[=:]\s*['"]?[A-Za-z0-9_-]{16,}\b`),
	pat("password_assignment", `(?i)\b(?:password|passwd|pwd)\b['"]?\s*[=:]\s*['"]?[^\s'"\[\]]{4,}`),
	pat("secret_assignment", `(?i)\b(?:client_secret|auth_token|access_token|refresh_token|secret_key)\b['"]?\s*[=:]\s*['"]?[^\s'"\[\]]{8,}`),

	// Database and broker connection strings
	pat("postgres_url", `\bpostgres(?:ql)?://[^\s'"]+`),
	pat("mysql_url", `\bmysql://[^\s'"]+`),
	pat("mongodb_url", `\bmongodb(?:\+srv)?://[^\s'"]+`),
	pat("redis_url", `\brediss?://[^\s'"]+`),
	pat("amqp_url", `\bamqps?://[^\s'"]+`),
	pat("jdbc_url", `\bjdbc:[a-z0-9]+:[^\s'"]+`),
	pat("url_credentials", `\b[a-z][a-z0-9+.-]*://[^\s:/@'"]+:[^\s@'"]+@[^\s'"]+`),

	// Network identifiers
	pat("ipv4_private", `\b(?:10\.(?:\d{1,3}\.){2}\d{1,3}|192\.168\.\d{1,3}\.\d{1,3}|172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3})\b`),
	pat("ipv6", `\b(?:[0-9a-fA-F]{1,4}:){4,7}[0-9a-fA-F]{1,4}\b`),
	pat("mac_address", `\b(?:[0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}\b`),

	// Personal identifiers
	pat("email", `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	pat("ssn", `\b\d{3}-\d{2}-\d{4}\b`),
	pat("credit_card", `\b(?:4\d{3}|5[1-5]\d{2}|3[47]\d{2}|6011)(?:[ -]?\d{4}){3}\b`),
	pat("iban", `\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
	pat("phone", `\+\d{1,3}[ .-]?\(?\d{1,4}\)?(?:[ .-]?\d{2,4}){2,4}\b`),
}

// Validator is a deliberately over-matching detector used in strict
// mode to flag content the primary table may have missed. Validators
// never redact; they only produce warnings.
type Validator struct {
	Name    string
	Matcher *regexp.Regexp
	Warning string
}

var validators = []Validator{
	{
		Name:    "email_like",
		Matcher: regexp.MustCompile(`@[A-Za-z0-9-]+\.[A-Za-z]{2,}`),
		Warning: "email-like string remains after redaction",
	},
	{
		Name:    "private_ip_like",
		Matcher: regexp.MustCompile(`\b(?:10|192|172)\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
		Warning: "private-IP-like address remains after redaction",
	},
	{
		Name:    "long_hex",
		Matcher: regexp.MustCompile(`\b[0-9a-fA-F]{40,}\b`),
		Warning: "long hexadecimal string remains after redaction",
	},
	{
		Name:    "base64_blob",
		Matcher: regexp.MustCompile(`\b[A-Za-z0-9+/]{64,}={0,2}`),
		Warning: "high-entropy base64 blob remains after redaction",
	},
	{
		Name:    "pem_marker",
		Matcher: regexp.MustCompile(`-----BEGIN `),
		Warning: "PEM marker remains after redaction",
	},
	{
		Name:    "credential_keyword",
		Matcher: regexp.MustCompile(`(?i)\b(?:password|secret|token|credential)s?\b\s*[=:]\s*[^\s\[]`),
		Warning: "credential keyword with unredacted value remains",
	},
}

// Categories lists all category identifiers in table order.
func Categories() []Category {
	out := make([]Category, len(patterns))
	for i, p := range patterns {
		out[i] = p.Category
	}
	return out
}
