package viewer

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Drowsiness Detection Stream</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; padding: 16px; }
        .header { display: flex; gap: 12px; align-items: center; margin-bottom: 16px; }
        .badge { padding: 4px 8px; border-radius: 4px; background: #444; font-size: 12px; }
        .badge.ok { background: #1b5e20; }
        .badge.alert { background: #b71c1c; }
        .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; }
        .panel img { width: 100%; height: auto; background: #000; }
        .error { color: #ff8a80; min-height: 1.2em; }
        pre { background: #222; padding: 8px; overflow: auto; }
        button { padding: 6px 14px; }
    </style>
</head>
<body>
    <div class="header">
        <button type="button" id="btn-start">Start</button>
        <button type="button" id="btn-stop">Stop</button>
        <span class="badge" id="conn-badge">disconnected</span>
        <span class="badge" id="fps-badge">0 FPS</span>
        <span class="badge" id="alert-badge">no report</span>
    </div>
    <div class="error" id="error"></div>
    <div class="grid">
        <div class="panel">
            <h2>Original</h2>
            <img src="/stream/original" alt="Original image from the analysis service">
        </div>
        <div class="panel">
            <h2>Sketch</h2>
            <img src="/stream/sketch" alt="Annotated image from the analysis service">
        </div>
    </div>
    <h2>Report</h2>
    <pre id="report">-</pre>
    <script>
        const $ = (id) => document.getElementById(id);
        let lastSeq = -1;

        async function post(path) {
            const res = await fetch(path, { method: "POST" });
            if (!res.ok) {
                const body = await res.json().catch(() => ({}));
                $("error").textContent = body.error || res.statusText;
            }
        }
        $("btn-start").onclick = () => post("/api/start");
        $("btn-stop").onclick = () => post("/api/stop");

        async function refreshReport() {
            const res = await fetch("/api/report");
            $("report").textContent = res.status === 204 ? "-" : JSON.stringify(await res.json(), null, 2);
        }

        const events = new EventSource("/api/status/stream");
        events.onmessage = (ev) => {
            const st = JSON.parse(ev.data);
            $("conn-badge").textContent = st.is_running ? st.channel_state : "stopped";
            $("conn-badge").className = "badge" + (st.is_connected ? " ok" : "");
            $("fps-badge").textContent = st.fps + " FPS";
            $("alert-badge").textContent = st.has_report ? (st.alerting ? "ALERT" : "normal") : "no report";
            $("alert-badge").className = "badge" + (st.alerting ? " alert" : "");
            $("error").textContent = st.current_error || "";
            if (st.message_seq !== lastSeq) {
                lastSeq = st.message_seq;
                refreshReport();
            }
        };
    </script>
</body>
</html>
`
