// Package code produces verification codes for the gate.
//
// A Policy is either fixed (the configured constant is handed to every user)
// or random (every character drawn independently from an alphabet). Policies
// are validated once, when the Generator is built, so a malformed policy is
// reported at configuration time instead of on a user's arrival.
//
// Codes are short and meant to be typed by a person. They only need to resist
// guessing within the attempt budget; they are not security tokens.
//
// Usage:
//
//	gen, err := code.NewGenerator(code.Random("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", 6))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	c, err := gen.Generate()
package code
