package azcore

const (
	headerAuthorization         = "Authorization"
	headerContentLength         = "Content-Length"
	headerContentType           = "Content-Type"
	headerLocation              = "Location"
	headerOperationLocation     = "Operation-Location"
	headerAsyncOperation        = "Azure-AsyncOperation"
	headerRetryAfter            = "Retry-After"
	headerRetryAfterMS          = "retry-after-ms"
	headerUserAgent             = "User-Agent"
	headerWWWAuthenticate       = "WWW-Authenticate"
	headerXMSClientRequestID    = "x-ms-client-request-id"
	headerXMSRequestID          = "x-ms-request-id"
	headerXMSReturnClientReqID  = "x-ms-return-client-request-id"
	headerXMSErrorCode          = "x-ms-error-code"
)

const bearerPrefix = "Bearer "
