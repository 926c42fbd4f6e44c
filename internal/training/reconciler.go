package training

import "sort"

// Diff classifies every item into keep/add/remove by pure set difference.
// The same diff applies whatever the trigger was (role change, department
// change, catalog edit): the expected set already encodes the current state,
// so no trigger-specific bookkeeping exists.
func Diff(authID string, expected map[ItemKey]struct{}, actual map[ItemKey]UserAssignment) Plan {
	plan := Plan{AuthID: authID}

	for k := range expected {
		if _, ok := actual[k]; ok {
			plan.Keep = append(plan.Keep, k)
		} else {
			plan.Add = append(plan.Add, k)
		}
	}
	for k := range actual {
		if _, ok := expected[k]; !ok {
			plan.Remove = append(plan.Remove, k)
		}
	}

	// Classification is set-based; the ordering is only for deterministic
	// audit records and test output.
	sortKeys(plan.Keep)
	sortKeys(plan.Add)
	sortKeys(plan.Remove)
	return plan
}

// ActualByKey shapes the assignment rows the way Diff consumes them.
func ActualByKey(rows []UserAssignment) map[ItemKey]UserAssignment {
	m := make(map[ItemKey]UserAssignment, len(rows))
	for _, row := range rows {
		m[row.Item] = row
	}
	return m
}

func sortKeys(keys []ItemKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].ItemID < keys[j].ItemID
	})
}
