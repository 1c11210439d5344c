// Package rules implements the ordered rename and emoji rule tables applied
// to node remarks during export.
package rules

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/wehubfusion/Daedalus/pkg/proxy"
)

// RegexMatchConfig is one rename or emoji rule. For rename rules Replace is
// the substitution applied to every match; for emoji rules Replace is the
// emoji prepended to remarks that match.
type RegexMatchConfig struct {
	Match   string `json:"match"`
	Replace string `json:"replace"`

	compiled *regexp.Regexp
}

// RegexMatchConfigs is an ordered rule table; rules apply in slice order.
type RegexMatchConfigs []RegexMatchConfig

func (c *RegexMatchConfig) pattern() (*regexp.Regexp, error) {
	if c.compiled == nil {
		re, err := regexp.Compile(c.Match)
		if err != nil {
			return nil, err
		}
		c.compiled = re
	}
	return c.compiled, nil
}

// ApplyRename rewrites every node remark through the rule table in order.
// Remarks are NFC-normalized first so that rules written against composed
// characters match subscriptions that deliver decomposed ones. A rule with
// an invalid pattern is logged and skipped.
func ApplyRename(nodes proxy.NodeList, configs RegexMatchConfigs, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for i := range nodes {
		remark := norm.NFC.String(nodes[i].Remark)
		for j := range configs {
			re, err := configs[j].pattern()
			if err != nil {
				logger.Error("Invalid rename rule, skipping",
					zap.String("match", configs[j].Match),
					zap.Error(err))
				continue
			}
			remark = re.ReplaceAllString(remark, configs[j].Replace)
		}
		nodes[i].Remark = remark
	}
}

// ApplyEmoji prepends the emoji of the first matching rule to each node
// remark. When removeOld is set, any existing emoji prefix is stripped first
// so repeated exports do not stack emoji.
func ApplyEmoji(nodes proxy.NodeList, configs RegexMatchConfigs, removeOld bool, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for i := range nodes {
		remark := norm.NFC.String(nodes[i].Remark)
		if removeOld {
			remark = trimLeadingEmoji(remark)
		}
		for j := range configs {
			re, err := configs[j].pattern()
			if err != nil {
				logger.Error("Invalid emoji rule, skipping",
					zap.String("match", configs[j].Match),
					zap.Error(err))
				continue
			}
			if re.MatchString(remark) && configs[j].Replace != "" {
				remark = configs[j].Replace + " " + remark
				break
			}
		}
		nodes[i].Remark = remark
	}
}

// trimLeadingEmoji drops emoji and variation selectors from the front of a
// remark, along with the whitespace that separated them from the name.
func trimLeadingEmoji(s string) string {
	for {
		trimmed := strings.TrimLeft(s, " ")
		runes := []rune(trimmed)
		if len(runes) == 0 || !isEmojiRune(runes[0]) {
			return trimmed
		}
		n := 1
		for n < len(runes) && (isEmojiRune(runes[n]) || isEmojiJoiner(runes[n])) {
			n++
		}
		s = string(runes[n:])
	}
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators (flags)
		return true
	case r >= 0x1F300 && r <= 0x1FAFF: // pictographs
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols and dingbats
		return true
	default:
		return false
	}
}

func isEmojiJoiner(r rune) bool {
	return r == 0x200D || r == 0xFE0F
}
