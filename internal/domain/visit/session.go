package visit

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const otpDigits = 6

// GenerateOTP returns a numeric one-time code and its bcrypt digest.
func GenerateOTP() (code string, digest string, err error) {
	limit := big.NewInt(int64(math.Pow10(otpDigits)))
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", "", err
	}
	code = fmt.Sprintf("%0*d", otpDigits, n.Int64())
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return code, string(hash), nil
}

// VerifyOTP compares a presented code with a stored digest.
func VerifyOTP(digest, code string) bool {
	if digest == "" || code == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(code)) == nil
}

var ErrOutsideGeofence = errors.New("agent is outside the property geofence")

// ErrOTPMismatch marks a check-in with a wrong code. The attempt is counted
// separately since the check-in itself is rolled back.
var ErrOTPMismatch = errors.New("one-time code does not match")

const earthRadiusMeters = 6371000.0

// DistanceMeters is the haversine distance between two coordinates.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// WithinGeofence reports whether (lat, lng) is within radius meters of the target.
func WithinGeofence(lat, lng, targetLat, targetLng, radius float64) bool {
	return DistanceMeters(lat, lng, targetLat, targetLng) <= radius
}
