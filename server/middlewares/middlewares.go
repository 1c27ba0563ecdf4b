// Package middlewares carries the gin middleware shared by the API routes.
package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tubemux/tubemux/model"
	"github.com/tubemux/tubemux/utils"
)

// UserKey is the gin context key the authenticated user is stored under.
const UserKey = "authed_user"

// Auth resolves the caller from the "sub" http header. Authentication itself
// happens in the fronting proxy, which validates the credential and stamps
// the user id into "sub" before the request reaches this service. A request
// without the header, or with a sub that maps to no user, is rejected with
// 401 before any handler runs.
func Auth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := c.Request.Header.Get("sub")
		if sub == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code": utils.ErrorTokenAuthFail,
				"msg":  "missing sub header",
			})
			c.Abort()
			return
		}

		var user model.User
		if err := db.WithContext(c.Request.Context()).Where("id = ?", sub).First(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code": utils.ErrorTokenAuthFail,
				"msg":  "unknown user",
			})
			c.Abort()
			return
		}

		c.Set(UserKey, &user)
		c.Next()
	}
}

// GetUser returns the user the Auth middleware resolved for this request.
func GetUser(c *gin.Context) *model.User {
	value, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	user, _ := value.(*model.User)
	return user
}
