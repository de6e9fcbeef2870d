// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package orch

import (
	"encoding/json"

	"github.com/hlrepl/hlrepl/internal/toolchain"
)

// diagnosticsToJSON renders diagnostics as a JSON array, falling back
// to an empty array literal if marshaling somehow fails (it never
// should, given Diagnostic's all-exported, all-primitive fields).
func diagnosticsToJSON(diags []toolchain.Diagnostic) string {
	data, err := json.Marshal(diags)
	if err != nil {
		return "[]"
	}
	return string(data)
}
