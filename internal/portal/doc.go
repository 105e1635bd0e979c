// Package portal is the HTTP client for the vendor's heating web portal.
//
// It signs in with a CSRF-protected form (the token is scraped with
// goquery), fetches the snapshot the device model is built from, and
// sends control commands. Responses are decoded into the device
// package's payload types; this package keeps no state besides the
// session cookie jar.
//
// Every request carries the Origin and Referer headers the portal checks.
// Any non-2xx answer is ErrUnexpectedStatus.
package portal
