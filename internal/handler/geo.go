package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const geoBlockedPage = `<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="robots" content="noindex">
<title>No disponible en tu región</title>
<style>
body{margin:0;min-height:100vh;display:flex;align-items:center;justify-content:center;font-family:system-ui,sans-serif;background:#f6f7f9;color:#1f2933}
main{max-width:32rem;padding:2rem;text-align:center}
h1{font-size:1.5rem;margin-bottom:.5rem}
p{color:#52606d;line-height:1.5}
</style>
</head>
<body>
<main>
<h1>Servicio no disponible en tu región</h1>
<p>Este sitio solo está disponible para clientes en Uruguay.</p>
<p lang="en">This site is not available in your region.</p>
</main>
</body>
</html>
`

// GeoBlocked serves the static page that country-filtered requests are
// rewritten to. Non-GET requests get a JSON error instead of the page.
func GeoBlocked(c echo.Context) error {
	switch c.Request().Method {
	case http.MethodGet, http.MethodHead:
		c.Response().Header().Set("Cache-Control", "no-store")
		return c.HTML(http.StatusOK, geoBlockedPage)
	default:
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": "service not available in your region",
		})
	}
}
