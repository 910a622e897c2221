package taskflow

// pageStyle is shared by every page served from the callback server.
const pageStyle = `<style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Ubuntu, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f5f5f4;
        }
        .card {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 10px 25px rgba(0,0,0,0.08);
            max-width: 440px;
            width: 100%;
        }
        h1 { font-size: 1.4rem; margin: 0 0 0.75rem; }
        p { color: #57534e; line-height: 1.5; }
        .error { color: #b91c1c; }
        a.button {
            display: inline-block;
            margin-top: 1.25rem;
            padding: 0.6rem 1.4rem;
            border-radius: 8px;
            background: #e11d48;
            color: white;
            text-decoration: none;
        }
    </style>`

// LoginSuccessHtml is shown once the code exchange completed.
const LoginSuccessHtml = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Signed in - FocusTime</title>
    ` + pageStyle + `
</head>
<body>
    <div class="card">
        <h1>Connected to TaskFlow</h1>
        <p>{{GREETING}}</p>
        <p>You can close this window and return to your terminal.</p>
    </div>
    <script>setTimeout(function () { window.close(); }, 3000);</script>
</body>
</html>`

// LoginFailureHtml is shown when the login could not be completed.
// {{MESSAGE}} must be HTML-escaped before substitution.
const LoginFailureHtml = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authentication failed - FocusTime</title>
    ` + pageStyle + `
</head>
<body>
    <div class="card">
        <h1>Authentication failed</h1>
        <p class="error">{{MESSAGE}}</p>
        <a class="button" href="/">Return Home</a>
    </div>
</body>
</html>`

// StartHtml is the unauthenticated landing view.
const StartHtml = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>FocusTime</title>
    ` + pageStyle + `
</head>
<body>
    <div class="card">
        <h1>FocusTime is not connected</h1>
        <p>Login was not completed. Run <code>focustime login</code> to connect your TaskFlow account.</p>
    </div>
</body>
</html>`
