// Package http provides the request and response values that travel through
// the middleware pipeline.
//
// # Request
//
// Request wraps *http.Request and carries attributes that middleware sets for
// later stages.
//
//	req := kernelhttp.NewRequest(r)
//
//	var payload struct {
//	    Name string `json:"name"`
//	}
//	if err := req.Bind(&payload); err != nil { ... }
//
//	name  := req.Input("name", "default")
//	page  := req.Query("page", "1")
//	id    := req.RouteParam("id")
//	token := req.BearerToken()
//
//	req.Set("user", user)         // request attributes
//	rid := req.GetString("request_id")
//
// # Response
//
// Response is buffered: stages return it up the chain and may change status,
// headers or body before the router sends it.
//
//	kernelhttp.JSON(200, data)            // raw JSON with status
//	kernelhttp.Success(data)              // 200 {"data": ...}
//	kernelhttp.Created(data)              // 201 {"data": ...}
//	kernelhttp.NoContent()                // 204
//	kernelhttp.Error(400, "bad input")    // {"message": "bad input"}
//	kernelhttp.Unauthorized()             // 401 {"message": "Unauthenticated."}
//	kernelhttp.NotFound()                 // 404 {"message": "Not found."}
//	kernelhttp.ServerError()              // 500 {"error": "Internal Server Error"}
//	kernelhttp.Redirect(302, "/dashboard")
//
//	err := res.Send(w)
package http
