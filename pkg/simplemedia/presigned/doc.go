// Package presigned issues and checks HMAC-signed, time-limited URLs for
// objects served by the media API itself.
//
// Deployments backed by the filesystem or memory store have no native
// presigning, so the API serves objects under /files/{key} and accepts a
// request only when its signature and expiry check out:
//
//	signer := presigned.New(
//	    presigned.WithSecretKey(os.Getenv("MEDIA_SIGNING_SECRET")),
//	    presigned.WithURLPattern("/files/{key}"),
//	)
//	url, _ := signer.SignURL(http.MethodGet, "/files/assets/o/avatar/a/small.jpg", 15*time.Minute)
//
// StoreSigner adapts a Signer to simplemedia.Signer so the resolver can use
// it like any other signing backend.
package presigned
