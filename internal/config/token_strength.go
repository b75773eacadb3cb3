package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakSecretScoreThreshold = 3

// IsWeakSecret returns whether a subscriber secret is considered too
// guessable. Length is enforced separately; this only scores strength.
func IsWeakSecret(secret string) bool {
	if secret == "" {
		return true
	}
	result := zxcvbn.PasswordStrength(secret, nil)
	return result.Score < weakSecretScoreThreshold
}
