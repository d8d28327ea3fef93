// Package common contains shared constants and sentinel errors used across
// the agriflow server components.
package common

// SessionName is the cookie name of the browser session.
const SessionName = "agriflow-session"

// DemoPassword is the password given to seeded demo accounts.
const DemoPassword = "password123"
