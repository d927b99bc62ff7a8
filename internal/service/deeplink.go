package service

import (
	"net/url"
	"regexp"
	"strings"
)

// AppScheme 是客户端应用注册的 URL scheme。
const AppScheme = "moviematch"

const (
	inviteCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	inviteCodeLength   = 6
)

var inviteCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// NormalizeInviteCode 去掉空白并转为大写，格式不对时返回 false。
func NormalizeInviteCode(raw string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	return code, inviteCodePattern.MatchString(code)
}

// ParseDeepLink 从深链中取出邀请码。支持的形式：
//
//	https://<host>/room/<CODE>   (以及 http)
//	<host>/room/<CODE>
//	moviematch://room/<CODE>
//	https://<host>/join?code=<CODE>
//	<CODE>
//
// linkHost 为空时接受任意主机。
func ParseDeepLink(raw, linkHost string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if code, ok := NormalizeInviteCode(raw); ok {
		return code, true
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	switch strings.ToLower(u.Scheme) {
	case AppScheme:
		// moviematch://room/CODE: host 是 "room"，路径是 /CODE
		if !strings.EqualFold(u.Host, "room") {
			return "", false
		}
		return NormalizeInviteCode(strings.Trim(u.Path, "/"))
	case "http", "https":
		if !hostMatches(u.Hostname(), linkHost) && !hostMatches(u.Host, linkHost) {
			return "", false
		}
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		switch {
		case len(segments) == 2 && strings.EqualFold(segments[0], "room"):
			return NormalizeInviteCode(segments[1])
		case len(segments) == 1 && strings.EqualFold(segments[0], "join"):
			return NormalizeInviteCode(u.Query().Get("code"))
		}
	}
	return "", false
}

func hostMatches(host, linkHost string) bool {
	if linkHost == "" {
		return host != ""
	}
	host = strings.ToLower(host)
	linkHost = strings.ToLower(linkHost)
	return host == linkHost || host == "www."+linkHost
}
