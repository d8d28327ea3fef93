// Package credential derives and verifies stored password hashes.
//
// A stored hash has the form
//
//	<hex scrypt digest, 128 chars>.<hex salt, 32 chars>
//
// The digest is scrypt(password, hexSalt, N=16384, r=8, p=1, 64). Note that the
// salt is fed to the KDF as its hex text, not as the decoded bytes; hashes
// written by earlier versions of the application depend on that.
//
// Typical use:
//
//	stored, err := credential.Derive("password123")
//	if err != nil {
//	    return err // never persist a fallback credential
//	}
//	ok := credential.Verify("password123", stored)
//
// Verify never fails loudly: a malformed stored value, a KDF error and a wrong
// password all yield false. Use Check when the failure class must be logged.
package credential
