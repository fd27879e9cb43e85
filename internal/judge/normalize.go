package judge

import (
	"regexp"
	"strings"
)

var (
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentPattern  = regexp.MustCompile(`--[^\n]*`)
	backtickQualified   = regexp.MustCompile("`[^`]+\\.([^`]+)`")
	backtickPlain       = regexp.MustCompile("`([^`.]+)`")
	bareQualified       = regexp.MustCompile(`\b\w+\.\w+\.(\w+)\b`)
	tokenPattern        = regexp.MustCompile(`'(?:[^']|'')*'|"[^"]*"|\w+`)
	whitespacePattern   = regexp.MustCompile(`\s+`)
	commaPattern        = regexp.MustCompile(`\s*,\s*`)
	openParenPattern    = regexp.MustCompile(`\(\s+`)
	closeParenPattern   = regexp.MustCompile(`\s+\)`)
	trailingSemiPattern = regexp.MustCompile(`;\s*$`)
)

var sqlKeywords = map[string]struct{}{}

func init() {
	for _, kw := range strings.Fields(`SELECT FROM WHERE GROUP BY ORDER HAVING LIMIT OFFSET JOIN INNER LEFT RIGHT FULL
OUTER CROSS ON USING AS AND OR NOT IN IS NULL LIKE BETWEEN CASE WHEN THEN ELSE END DISTINCT UNION ALL
EXCEPT INTERSECT WITH ASC DESC COUNT SUM AVG MIN MAX CAST EXTRACT DATE TIMESTAMP INTERVAL OVER PARTITION
ROUND COALESCE IFNULL TRUE FALSE EXISTS ANY QUALIFY ROWS RANGE UNNEST SAFE_DIVIDE CURRENT_DATE DATE_TRUNC
DATE_SUB DATE_ADD DATE_DIFF LOWER UPPER`) {
		sqlKeywords[kw] = struct{}{}
	}
}

// NormalizeSQL canonicalizes a query for exact comparison: comments removed,
// keywords upper-cased, identifiers lower-cased, project/dataset qualifiers
// dropped and whitespace collapsed. String literals keep their case.
func NormalizeSQL(sql string) string {
	if strings.TrimSpace(sql) == "" {
		return ""
	}
	out := blockCommentPattern.ReplaceAllString(sql, " ")
	out = lineCommentPattern.ReplaceAllString(out, " ")
	out = backtickQualified.ReplaceAllString(out, "$1")
	out = backtickPlain.ReplaceAllString(out, "$1")
	out = bareQualified.ReplaceAllString(out, "$1")
	out = tokenPattern.ReplaceAllStringFunc(out, func(token string) string {
		if strings.HasPrefix(token, "'") {
			return token
		}
		if strings.HasPrefix(token, `"`) {
			return strings.ToLower(token)
		}
		upper := strings.ToUpper(token)
		if _, ok := sqlKeywords[upper]; ok {
			return upper
		}
		return strings.ToLower(token)
	})
	out = whitespacePattern.ReplaceAllString(out, " ")
	out = commaPattern.ReplaceAllString(out, ", ")
	out = openParenPattern.ReplaceAllString(out, "(")
	out = closeParenPattern.ReplaceAllString(out, ")")
	out = trailingSemiPattern.ReplaceAllString(strings.TrimSpace(out), "")
	return strings.TrimSpace(out)
}
