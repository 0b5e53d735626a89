// SPDX-FileCopyrightText: 2026 The petscango Authors
// SPDX-License-Identifier: MIT

package sources

import "golang.org/x/text/language"

// normalizeLangs canonicalizes a list of user-supplied language codes
// (mixed case, underscore variants, etc.) to BCP 47 form so they match the
// codes MediaWiki itself stores in ll_lang/wbxl_language. A code that
// fails to parse is passed through unchanged rather than
// dropped, so a typo'd bucket still participates in the query instead of
// silently vanishing.
func normalizeLangs(codes []string) []string {
	out := make([]string, len(codes))
	for i, code := range codes {
		tag, err := language.Parse(code)
		if err != nil {
			out[i] = code
			continue
		}
		out[i] = tag.String()
	}
	return out
}
