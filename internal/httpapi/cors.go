package httpapi

import "net/http"

// corsHeaders computes the access-control headers for one request from the
// fixed allow-list plus the request's Origin. Development mode mirrors any
// origin back.
func corsHeaders(origin string, allowed map[string]struct{}, fallback string, dev bool) map[string]string {
	_, ok := allowed[origin]
	if dev || ok {
		allow := origin
		if allow == "" {
			allow = "*"
		}
		return map[string]string{
			"Access-Control-Allow-Origin":  allow,
			"Access-Control-Allow-Methods": "*",
			"Access-Control-Allow-Headers": "*",
			"Access-Control-Max-Age":       "3600",
		}
	}
	return map[string]string{
		"Access-Control-Allow-Origin":  fallback,
		"Access-Control-Allow-Methods": "POST, GET, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization, Accept, Origin, X-Requested-With",
		"Access-Control-Max-Age":       "3600",
	}
}

// CORS stamps every response with headers from the allow-list.
func CORS(allowedOrigins []string, dev bool) func(http.Handler) http.Handler {
	allow := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allow[o] = struct{}{}
	}
	fallback := ""
	if len(allowedOrigins) > 0 {
		fallback = allowedOrigins[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for k, v := range corsHeaders(origin, allow, fallback, dev) {
				w.Header().Set(k, v)
			}
			if origin != "" {
				w.Header().Set("Vary", "Origin")
			}
			next.ServeHTTP(w, r)
		})
	}
}
