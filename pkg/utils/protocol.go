package utils

// Custom WebSocket close codes for the /admin/events stream.
// https://www.rfc-editor.org/rfc/rfc6455#section-7.4.2
const (
	CloseCodeMissingAdminToken int = 4001
	CloseCodeUnauthorizedAdmin int = 4002
)

func IsKnownAdminCloseCode(code int) bool {
	return code == CloseCodeMissingAdminToken || code == CloseCodeUnauthorizedAdmin
}

var adminCloseCodeNameMap = map[int]string{
	CloseCodeMissingAdminToken: "CloseCodeMissingAdminToken",
	CloseCodeUnauthorizedAdmin: "CloseCodeUnauthorizedAdmin",
}

func CloseCodeName(code int) string {
	name, exists := adminCloseCodeNameMap[code]
	if exists {
		return name
	}
	return "UnknownCode"
}
