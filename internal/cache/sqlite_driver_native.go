// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package cache

import _ "modernc.org/sqlite"

const driverName = "sqlite"
