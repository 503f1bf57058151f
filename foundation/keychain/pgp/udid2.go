package pgp

import "regexp"

// udid2 is a user id format binding a human identity to a key: family name,
// first name, birth date and birth place geocode, terminated by a revision
// counter. Example:
//
//	udid2;c;DOE;JOHN;1980-07-03;e+47.47+000.56;0;
var udid2 = regexp.MustCompile(`^udid2;c;[A-Z-]+;[A-Z-]*;\d{4}-\d{2}-\d{2};e[+-]\d{1,2}\.\d{2}[+-]\d{1,3}\.\d{2};\d+(;.*)?$`)

// IsUdid2 reports whether a user id text is a well formed udid2 identity.
func IsUdid2(userID string) bool {
	return udid2.MatchString(userID)
}
