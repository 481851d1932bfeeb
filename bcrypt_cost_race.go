//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

// Race builds hash with the minimum cost; cost 14 under the race
// detector makes the lifecycle tests time out.
func passwordHashCost() int {
	return bcrypt.MinCost
}
