package http1

const (
	HeaderAllow            = "Allow"
	HeaderConnection       = "Connection"
	HeaderContentLength    = "Content-Length"
	HeaderContentType      = "Content-Type"
	HeaderDate             = "Date"
	HeaderExpect           = "Expect"
	HeaderHost             = "Host"
	HeaderLocation         = "Location"
	HeaderServer           = "Server"
	HeaderTE               = "TE"
	HeaderTrailer          = "Trailer"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderUpgrade          = "Upgrade"
)

// default limits
const (
	DefaultMaxLineBytes   = 8 << 10
	DefaultMaxURIBytes    = 8000
	DefaultMaxHeaderBytes = 64 << 10
	DefaultMaxHeaderCount = 100
	DefaultMaxBodyBytes   = 10 << 20

	maxChunkLineLength = 4096
	maxLeadingEmpty    = 8
)

var (
	byteCRLF       = []byte("\r\n")
	byteColonSpace = []byte(": ")
	byteChunked    = []byte("chunked")
	byteIdentity   = []byte("identity")
	byteClose      = []byte("close")
	byteKeepAlive  = []byte("keep-alive")
	byteLastChunk  = []byte("0\r\n\r\n")

	byte100Continue      = []byte("100-continue")
	byteResponseContinue = []byte("HTTP/1.1 100 Continue\r\n\r\n")

	defaultContentType = []byte("text/plain; charset=utf-8")
)

const dateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"
