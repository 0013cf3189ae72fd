package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultInitDataTTL bounds how old auth_date in initData may be.
const DefaultInitDataTTL = 5 * time.Minute

const maxClockSkew = time.Minute

var ErrInvalidInitData = errors.New("invalid telegram init data")

// WebAppUser is the user object Telegram embeds in initData.
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// ValidateTelegramWebAppData checks the initData signature and freshness and
// returns the user it was issued for.
// https://core.telegram.org/bots/webapps#validating-data-received-via-the-mini-app
func ValidateTelegramWebAppData(initData, botToken string, maxAge time.Duration) (WebAppUser, error) {
	if maxAge <= 0 {
		maxAge = DefaultInitDataTTL
	}

	vals, err := url.ParseQuery(initData)
	if err != nil {
		return WebAppUser{}, fmt.Errorf("%w: %v", ErrInvalidInitData, err)
	}

	receivedHash := vals.Get("hash")
	if receivedHash == "" {
		return WebAppUser{}, fmt.Errorf("%w: hash is missing", ErrInvalidInitData)
	}

	authDate, err := parseAuthDate(vals.Get("auth_date"))
	if err != nil {
		return WebAppUser{}, err
	}
	if age := time.Since(authDate); age > maxAge {
		return WebAppUser{}, fmt.Errorf("%w: expired, auth_date is %s old (max %s)", ErrInvalidInitData, age.Round(time.Second), maxAge)
	}
	if authDate.After(time.Now().Add(maxClockSkew)) {
		return WebAppUser{}, fmt.Errorf("%w: auth_date is in the future", ErrInvalidInitData)
	}

	expected := hex.EncodeToString(signInitData(vals, botToken))
	if !hmac.Equal([]byte(expected), []byte(receivedHash)) {
		return WebAppUser{}, fmt.Errorf("%w: hash mismatch", ErrInvalidInitData)
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(vals.Get("user")), &user); err != nil || user.ID == 0 {
		return WebAppUser{}, fmt.Errorf("%w: user is missing", ErrInvalidInitData)
	}
	return user, nil
}

func parseAuthDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: auth_date is missing", ErrInvalidInitData)
	}
	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: auth_date is not a unix timestamp", ErrInvalidInitData)
	}
	return time.Unix(unix, 0), nil
}

// signInitData computes HMAC-SHA256 over the sorted key=value lines, keyed by
// HMAC-SHA256("WebAppData", botToken).
func signInitData(vals url.Values, botToken string) []byte {
	var pairs []string
	for key, values := range vals {
		if key == "hash" {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, key+"="+v)
		}
	}
	sort.Strings(pairs)

	secretKey := hmacSHA256([]byte("WebAppData"), []byte(botToken))
	return hmacSHA256(secretKey, []byte(strings.Join(pairs, "\n")))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
