package transport

import "slices"

func sortByCreated(tasks []TaskInfo) {
	slices.SortStableFunc(tasks, func(a, b TaskInfo) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		// uuid v7 ids are time ordered
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
