package gate

import "context"

// StaticDirectory is a fixed user to manager mapping. Used where no
// external org-chart service is wired, and in tests.
type StaticDirectory map[string]string

func (d StaticDirectory) ManagerOf(_ context.Context, userID string) (string, error) {
	manager, ok := d[userID]
	if !ok || manager == "" {
		return "", ErrManagerNotFound
	}

	return manager, nil
}
