/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package consolidation

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/hoopsight/propcore/pkg/staging"
)

const tableColumnsSQL = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2`

// businessKeyOn is the merge join condition. The COALESCE(-1) sentinel makes
// NULL lines comparable; SQL NULL = NULL would otherwise never match and
// every no-line record would insert a duplicate.
const businessKeyOn = `target.game_id = source.game_id
   AND target.player_lookup = source.player_lookup
   AND target.system_id = source.system_id
   AND COALESCE(target.current_points_line, -1) = COALESCE(source.current_points_line, -1)`

// mergeKeepColumns are never updated on match: identity and first-seen time
// survive re-consolidation.
var mergeKeepColumns = []string{"prediction_id", "created_at", "game_id", "player_lookup", "system_id", "current_points_line", "updated_at"}

// buildMergeSQL unions the staging tables on their common column projection,
// keeps the newest row per business key, and merges into the main table.
func buildMergeSQL(tables, columns []string) string {
	columnList := strings.Join(columns, ", ")
	selects := lo.Map(tables, func(table string, _ int) string {
		return fmt.Sprintf("SELECT %s FROM %s.%s", columnList, staging.Schema, table)
	})

	assignments := lo.FilterMap(columns, func(column string, _ int) (string, bool) {
		if lo.Contains(mergeKeepColumns, column) {
			return "", false
		}
		return fmt.Sprintf("%s = source.%s", column, column), true
	})
	assignments = append(assignments, "updated_at = NOW()")

	sourceColumns := lo.Map(columns, func(column string, _ int) string {
		return "source." + column
	})

	return fmt.Sprintf(`
MERGE INTO %s.%s AS target
USING (
    SELECT %s FROM (
        SELECT %s,
               ROW_NUMBER() OVER (
                   PARTITION BY game_id, player_lookup, system_id, COALESCE(current_points_line, -1)
                   ORDER BY created_at DESC
               ) AS rn
        FROM (
            %s
        ) AS staged
    ) AS deduped
    WHERE rn = 1
) AS source
ON %s
WHEN MATCHED THEN UPDATE SET %s
WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)`,
		staging.Schema, staging.MainTable,
		columnList, columnList,
		joinSQL(selects, "\n            UNION ALL\n            "),
		businessKeyOn,
		strings.Join(assignments, ", "),
		columnList, strings.Join(sourceColumns, ", "),
	)
}

// deactivateSupersededSQL marks every row not the newest within its
// (game_id, player_lookup, system_id) partition inactive. Line changes
// produce distinct business keys, so this is what retires the old line's
// prediction when a fresh batch lands.
const deactivateSupersededSQL = `
UPDATE ` + staging.Schema + `.` + staging.MainTable + ` AS p
SET is_active = FALSE, updated_at = NOW()
FROM (
    SELECT prediction_id,
           ROW_NUMBER() OVER (
               PARTITION BY game_id, player_lookup, system_id
               ORDER BY created_at DESC
           ) AS rn
    FROM ` + staging.Schema + `.` + staging.MainTable + `
    WHERE game_date = $1::date
) AS ranked
WHERE p.prediction_id = ranked.prediction_id
  AND ranked.rn > 1
  AND p.is_active`

// duplicateKeysSQL counts business keys appearing more than once for the
// date, active or not; any hit fails the pass. Supersession deactivates rows
// sharing only the three-column partition, so a true business-key duplicate
// can straddle the is_active flag.
const duplicateKeysSQL = `
SELECT COUNT(*)::bigint FROM (
    SELECT game_id, player_lookup, system_id, COALESCE(current_points_line, -1)
    FROM ` + staging.Schema + `.` + staging.MainTable + `
    WHERE game_date = $1::date
    GROUP BY 1, 2, 3, 4
    HAVING COUNT(*) > 1
) AS duplicated`

// likeEscape escapes LIKE metacharacters so staging-table prefixes with
// underscores match literally.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return strings.ReplaceAll(s, `%`, `\%`)
}

func joinSQL(parts []string, sep string) string {
	return strings.Join(parts, sep)
}
