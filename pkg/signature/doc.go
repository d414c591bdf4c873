// Package signature computes and verifies webhook signatures.
//
// Outbound payloads are signed with Sign, which returns a hex HMAC over the exact
// bytes that are sent. Inbound requests are checked by a Validator. The package
// ships several variants:
//
//   - HMAC: single header, optional prefix, hex or base64, optional timestamp binding
//   - Stripe: "t=...,v1=..." scheme
//   - APIKey, Basic: shared static credentials
//   - JWT: HMAC-signed bearer tokens
//
// Providers are resolved by name through a Registry:
//
//	reg := signature.NewRegistry()
//	v, err := reg.Validator("github")
//	if err != nil {
//		return err
//	}
//	ok := v.Validate(signature.Request{Body: body, Header: r.Header}, secret)
//
// All comparisons run in constant time.
package signature
